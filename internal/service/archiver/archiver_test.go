package archiver

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// TestParseIgnorePatterns drops blank lines and comments and strips whitespace.
func TestParseIgnorePatterns(t *testing.T) {
	t.Parallel()

	contents := "# build output\n\nvendor/\n  node_modules \r\n\t\n*.md\n#tests\nsrc / tmp\n   \n"

	patterns := ParseIgnorePatterns(contents)
	require.Equal(t, []string{"vendor/", "node_modules", "*.md", "src/tmp"}, patterns)

	for _, p := range patterns {
		require.NotEmpty(t, p)
		require.False(t, strings.HasPrefix(p, "#"))
		require.Equal(t, -1, strings.IndexFunc(p, func(r rune) bool { return r == ' ' || r == '\t' || r == '\r' }))
	}

	require.Empty(t, ParseIgnorePatterns(""))
}

// TestResolveIgnorePatterns always appends the default patterns.
func TestResolveIgnorePatterns(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/src/.kernlignore", []byte("# deps\n./vendor/\ntests/**\n"), 0o644))

	patterns, err := ResolveIgnorePatterns(context.Background(), fs, "/src/.kernlignore")
	require.NoError(t, err)
	require.Equal(t, append([]string{"vendor", "tests/**"}, DefaultIgnorePatterns()...), patterns)

	// Missing ignore file still yields the defaults.
	patterns, err = ResolveIgnorePatterns(context.Background(), fs, "/src/missing")
	require.NoError(t, err)
	require.Equal(t, DefaultIgnorePatterns(), patterns)

	require.NoError(t, afero.WriteFile(fs, "/src/bad", []byte("[abc\n"), 0o644))

	_, err = ResolveIgnorePatterns(context.Background(), fs, "/src/bad")
	require.ErrorIs(t, err, ErrBadPattern)
}

// TestMatcher covers hidden files and directory patterns.
func TestMatcher(t *testing.T) {
	t.Parallel()

	m := &matcher{patterns: []string{"vendor", "build/**", "**/*.md", "*.zip"}}

	excluded := map[string]bool{
		"a.php":            false,
		"sub/b.php":        false,
		"vendor":           true,
		"vendor/x.php":     false,
		"build/app.js":     true,
		"README.md":        true,
		"docs/guide.md":    true,
		"myplugin.zip":     true,
		"sub/inner.zip":    false,
		".git":             true,
		"sub/.env":         true,
		"sub/.hidden/file": false,
	}
	for rel, want := range excluded {
		require.Equal(t, want, m.excluded(rel), rel)
	}

	pruned := map[string]bool{
		"vendor":     false,
		"build":      true,
		"sub/build":  false,
		"sub":        false,
		".git":       true,
		"sub/.cache": true,
	}
	for rel, want := range pruned {
		require.Equal(t, want, m.pruned(rel), rel)
	}

	m.includeHidden = true
	require.False(t, m.excluded(".git"))
	require.False(t, m.pruned(".git"))
}

func writeTree(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()

	for name, contents := range files {
		require.NoError(t, fs.MkdirAll(filepath.Dir(name), 0o755))
		require.NoError(t, afero.WriteFile(fs, name, []byte(contents), 0o644))
	}
}

func readArchive(t *testing.T, fs afero.Fs, name string) map[string]string {
	t.Helper()

	f, err := fs.Open(name)
	require.NoError(t, err)

	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	require.NoError(t, err)

	reader, err := zip.NewReader(f, info.Size())
	require.NoError(t, err)

	contents := make(map[string]string, len(reader.File))

	for _, file := range reader.File {
		require.Equal(t, zip.Deflate, file.Method)

		rc, err := file.Open()
		require.NoError(t, err)

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		contents[file.Name] = string(data)
	}

	return contents
}

// TestBuild archives every non-ignored file under the base folder.
func TestBuild(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{
		"/src/a.php":          "<?php echo 'a';",
		"/src/sub/b.php":      "<?php echo 'b';",
		"/src/sub/deep/c.css": "body{}",
		"/src/output.log":     "log",
		"/src/DOCKER_ENV":     "1",
		"/src/old.zip":        "zip",
		"/src/README.md":      "# readme",
		"/src/vendor/x.php":   "vendor",
		"/src/build/app.js":   "bundle",
		"/src/.git/config":    "[core]",
		"/src/.kernlignore":   "# docs\nvendor\nbuild/**\n\n*.md\n",
	})

	ctx := context.Background()

	patterns, err := ResolveIgnorePatterns(ctx, fs, "/src/.kernlignore")
	require.NoError(t, err)

	result, err := New(fs).Build(ctx, &Options{
		SourceDir:      "/src",
		OutputPath:     "/src/myplugin.zip",
		BaseFolder:     "myplugin",
		IgnorePatterns: patterns,
	})
	require.NoError(t, err)
	require.Equal(t, "/src/myplugin.zip", result.Path)
	require.Positive(t, result.Size)

	// A plain directory pattern ignores the directory itself, not the files inside it.
	expected := []string{
		"myplugin/a.php",
		"myplugin/sub/b.php",
		"myplugin/sub/deep/c.css",
		"myplugin/vendor/x.php",
	}
	require.Equal(t, expected, result.Entries)

	contents := readArchive(t, fs, result.Path)

	names := make([]string, 0, len(contents))
	for name := range contents {
		names = append(names, name)
	}

	sort.Strings(names)
	require.Equal(t, expected, names)
	require.Equal(t, "<?php echo 'b';", contents["myplugin/sub/b.php"])
}

// TestBuild_IncludeHidden keeps dot-files when asked to.
func TestBuild_IncludeHidden(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{
		"/src/a.php":     "a",
		"/src/.htaccess": "deny",
	})

	result, err := New(fs).Build(context.Background(), &Options{
		SourceDir:     "/src",
		OutputPath:    "/out/myplugin.zip",
		BaseFolder:    "myplugin",
		IncludeHidden: true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"myplugin/.htaccess", "myplugin/a.php"}, result.Entries)
}

// TestBuild_Cancelled removes the partial archive when the build is aborted.
func TestBuild_Cancelled(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{
		"/src/a.php": "a",
		"/src/b.php": "b",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(fs).Build(ctx, &Options{
		SourceDir:  "/src",
		OutputPath: "/src/myplugin.zip",
		BaseFolder: "myplugin",
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = fs.Stat("/src/myplugin.zip")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestBuild_MissingSource fails without leaving an archive behind.
func TestBuild_MissingSource(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()

	_, err := New(fs).Build(context.Background(), &Options{
		SourceDir:  "/nowhere",
		OutputPath: "/out/myplugin.zip",
		BaseFolder: "myplugin",
	})
	require.Error(t, err)

	exists, err := afero.Exists(fs, "/out/myplugin.zip")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = New(fs).Build(context.Background(), &Options{OutputPath: "/out/x.zip"})
	require.Error(t, err)
}

// TestBuild_CreatesOutputDir writes the archive into a directory that does not exist yet.
func TestBuild_CreatesOutputDir(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeTree(t, fs, map[string]string{"/src/a.php": "a"})

	result, err := New(fs).Build(context.Background(), &Options{
		SourceDir:  "/src",
		OutputPath: "/dist/release/myplugin.zip",
		BaseFolder: "myplugin",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"myplugin/a.php"}, result.Entries)

	exists, err := afero.Exists(fs, "/dist/release/myplugin.zip")
	require.NoError(t, err)
	require.True(t, exists)
}

// TestBuild_SkipsOwnArchive leaves the archive out even when it lies in a
// nested directory of a relative source and is given as an absolute path.
func TestBuild_SkipsOwnArchive(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	fs := afero.NewOsFs()
	writeTree(t, fs, map[string]string{
		filepath.Join("src", "a.php"):         "a",
		filepath.Join("src", "dist", "b.php"): "b",
	})

	result, err := New(fs).Build(context.Background(), &Options{
		SourceDir:      "src",
		OutputPath:     filepath.Join(dir, "src", "dist", "myplugin.zip"),
		BaseFolder:     "myplugin",
		IgnorePatterns: DefaultIgnorePatterns(),
	})
	require.NoError(t, err)

	expected := []string{"myplugin/a.php", "myplugin/dist/b.php"}
	require.Equal(t, expected, result.Entries)

	names := make([]string, 0, len(expected))
	for name := range readArchive(t, fs, result.Path) {
		names = append(names, name)
	}

	sort.Strings(names)
	require.Equal(t, expected, names)
}
