package release

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/jsonc"
)

// Release is the metadata sent alongside an archive.
type Release struct {
	// Version is used verbatim as the version form field.
	Version string
	// Changelog is the description for Version, possibly empty.
	Changelog string
}

// Entry is a single changelog record.
type Entry struct {
	// Description is the human-readable change summary.
	Description string `json:"description"`
}

// Changelog maps version strings to their raw entries. Entries are decoded
// lazily so a malformed record only matters when its version is released.
type Changelog map[string]json.RawMessage

// ErrNotObject is returned when the changelog document is not a JSON object.
var ErrNotObject = errors.New("changelog must be a JSON object")

// ParseChangelog decodes a changelog document. Comments and trailing commas are allowed.
func ParseChangelog(data []byte) (Changelog, error) {
	var changelog Changelog
	if err := json.Unmarshal(jsonc.ToJSON(data), &changelog); err != nil {
		return nil, fmt.Errorf("decode changelog: %w", err)
	}

	if changelog == nil {
		return nil, ErrNotObject
	}

	return changelog, nil
}

// Description returns the description recorded for version.
// A missing version, a null entry or an entry without description yields "".
func (c Changelog) Description(version string) (string, error) {
	raw, ok := c[version]
	if !ok {
		return "", nil
	}

	var entry *Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", fmt.Errorf("decode changelog entry %q: %w", version, err)
	}

	if entry == nil {
		return "", nil
	}

	return entry.Description, nil
}
