package metadata

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/oshokin/kernl-deploy/internal/domain/release"
)

// Repository provides the metadata of the release being deployed.
type Repository interface {
	Version(ctx context.Context) (string, error)
	Changelog(ctx context.Context, version string) (string, error)
	Release(ctx context.Context) (*release.Release, error)
}

// FileRepository reads release metadata from files on an afero filesystem.
type FileRepository struct {
	// fs is the filesystem holding the metadata files.
	fs afero.Fs
	// versionPath is the file with the release version.
	versionPath string
	// changelogPath is the JSON file mapping versions to descriptions.
	changelogPath string
}

// ErrEmptyVersion is returned when the version file holds only whitespace.
var ErrEmptyVersion = errors.New("version file is empty")

// NewFileRepository creates a repository over the given paths.
func NewFileRepository(fs afero.Fs, versionPath, changelogPath string) *FileRepository {
	return &FileRepository{
		fs:            fs,
		versionPath:   filepath.Clean(versionPath),
		changelogPath: filepath.Clean(changelogPath),
	}
}

// Version returns the trimmed contents of the version file. The format is not checked.
func (r *FileRepository) Version(_ context.Context) (string, error) {
	contents, err := afero.ReadFile(r.fs, r.versionPath)
	if err != nil {
		return "", fmt.Errorf("read version file: %w", err)
	}

	version := strings.TrimSpace(string(contents))
	if version == "" {
		return "", fmt.Errorf("%s: %w", r.versionPath, ErrEmptyVersion)
	}

	return version, nil
}

// Changelog returns the description recorded for version, or "" when there is none.
func (r *FileRepository) Changelog(_ context.Context, version string) (string, error) {
	contents, err := afero.ReadFile(r.fs, r.changelogPath)
	if err != nil {
		return "", fmt.Errorf("read changelog file: %w", err)
	}

	changelog, err := release.ParseChangelog(contents)
	if err != nil {
		return "", fmt.Errorf("%s: %w", r.changelogPath, err)
	}

	return changelog.Description(version)
}

// Release reads the version and its changelog description.
func (r *FileRepository) Release(ctx context.Context) (*release.Release, error) {
	version, err := r.Version(ctx)
	if err != nil {
		return nil, err
	}

	changelog, err := r.Changelog(ctx, version)
	if err != nil {
		return nil, err
	}

	return &release.Release{
		Version:   version,
		Changelog: changelog,
	}, nil
}
