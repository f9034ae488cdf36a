package actions

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// outputFileEnv names the file step outputs are appended to.
	outputFileEnv = "GITHUB_OUTPUT"
	// inputEnvPrefix prefixes every action input variable.
	inputEnvPrefix = "INPUT_"
)

// Runner reads inputs from an environment and writes workflow commands.
type Runner struct {
	// getenv looks up environment variables.
	getenv func(string) string
	// stdout receives workflow commands.
	stdout io.Writer
}

// NewRunner returns a Runner bound to the process environment and stdout.
func NewRunner() *Runner {
	return NewRunnerWith(os.Getenv, os.Stdout)
}

// NewRunnerWith returns a Runner with an explicit environment and output.
func NewRunnerWith(getenv func(string) string, stdout io.Writer) *Runner {
	return &Runner{
		getenv: getenv,
		stdout: stdout,
	}
}

// InputEnv returns the variable name the runner uses for an input.
// Spaces become underscores, the name is upper-cased, hyphens are kept.
func InputEnv(name string) string {
	return inputEnvPrefix + strings.ToUpper(strings.ReplaceAll(name, " ", "_"))
}

// Input returns the trimmed value of an action input, or "" when unset.
func (r *Runner) Input(name string) string {
	return strings.TrimSpace(r.getenv(InputEnv(name)))
}

// SetOutput publishes a step output. Without GITHUB_OUTPUT the deprecated
// set-output command is printed, which keeps local runs readable.
func (r *Runner) SetOutput(name, value string) error {
	path := r.getenv(outputFileEnv)
	if path == "" {
		_, err := fmt.Fprintf(r.stdout, "::set-output name=%s::%s\n", name, escapeData(value))
		return err
	}

	entry, err := formatOutput(name, value)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // Runner-owned file.
	if err != nil {
		return fmt.Errorf("open %s: %w", outputFileEnv, err)
	}

	if _, err = f.WriteString(entry); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", outputFileEnv, err)
	}

	return f.Close()
}

// SetSecret masks value in all later log output of the job.
func (r *Runner) SetSecret(value string) {
	if value == "" {
		return
	}

	_, _ = fmt.Fprintf(r.stdout, "::add-mask::%s\n", escapeData(value))
}

// SetFailed prints an error annotation. The caller is responsible for the exit code.
func (r *Runner) SetFailed(message string) {
	_, _ = fmt.Fprintf(r.stdout, "::error::%s\n", escapeData(message))
}

// formatOutput renders name=value, switching to a heredoc block for multi-line values.
func formatOutput(name, value string) (string, error) {
	if !strings.ContainsAny(value, "\r\n") {
		return name + "=" + value + "\n", nil
	}

	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate output delimiter: %w", err)
	}

	delimiter := "ghadelimiter_" + hex.EncodeToString(buf)

	return fmt.Sprintf("%s<<%s\n%s\n%s\n", name, delimiter, value, delimiter), nil
}

// escapeData escapes a workflow command payload.
func escapeData(s string) string {
	return strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A").Replace(s)
}
