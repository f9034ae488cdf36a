package deployer

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/oshokin/kernl-deploy/internal/config"
	"github.com/oshokin/kernl-deploy/internal/domain/release"
	"github.com/oshokin/kernl-deploy/internal/logger"
	"github.com/oshokin/kernl-deploy/internal/repository/metadata"
	"github.com/oshokin/kernl-deploy/internal/service/archiver"
	"github.com/oshokin/kernl-deploy/internal/service/kernl"
)

// Options contains inputs for the deployer entry point.
type Options struct {
	// Config holds the run settings. It is validated by Run.
	Config *config.Config
	// Fs is the filesystem holding the plugin sources. Defaults to the OS filesystem.
	Fs afero.Fs
	// HTTPClient overrides the client used for the deployment service.
	HTTPClient *http.Client
}

// Result is what a run produced.
type Result struct {
	// ArchivePath is the location of the built archive.
	ArchivePath string
	// Release is the version and changelog that were published.
	Release *release.Release
	// Uploaded reports whether the service accepted the upload.
	Uploaded bool
}

// deployer holds the collaborators of a single run.
// It is unexported: callers should use Run, which encapsulates setup and validation.
type deployer struct {
	// cfg holds the validated settings.
	cfg *config.Config
	// fs holds the sources, the metadata files and the archive.
	fs afero.Fs
	// client talks to the deployment service.
	client *kernl.Client
	// archiver builds the archive.
	archiver *archiver.Archiver
	// metadata reads the version and changelog.
	metadata metadata.Repository
}

// Run executes the deployment workflow.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "kernl-deploy")

	if err := config.Validate(opts.Config); err != nil {
		return nil, err
	}

	d, err := newDeployer(opts)
	if err != nil {
		return nil, fmt.Errorf("initialize deployer: %w", err)
	}

	return d.Run(logger.WithKV(ctx, "plugin", d.cfg.PluginSlug))
}

// newDeployer wires the collaborators for a validated configuration.
func newDeployer(opts *Options) (*deployer, error) {
	cfg := opts.Config

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	client, err := kernl.NewClient(cfg.AuthURL, cfg.DeploymentURL,
		kernl.WithHTTPClient(opts.HTTPClient),
		kernl.WithCallTimeout(cfg.Timeout))
	if err != nil {
		return nil, err
	}

	return &deployer{
		cfg:      cfg,
		fs:       fs,
		client:   client,
		archiver: archiver.New(fs),
		metadata: metadata.NewFileRepository(fs,
			cfg.SourcePath(cfg.VersionFile),
			cfg.SourcePath(cfg.ChangelogFile)),
	}, nil
}

// Run authenticates, prepares the release and uploads it.
func (d *deployer) Run(ctx context.Context) (*Result, error) {
	logger.InfoKV(ctx, "Authenticating", "auth_url", d.cfg.AuthURL)

	token, err := d.client.Authenticate(ctx, kernl.Credentials{
		Email:    d.cfg.Username,
		Password: d.cfg.Password,
	})
	if err != nil {
		return nil, err
	}

	archive, rel, err := d.prepare(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{
		ArchivePath: archive.Path,
		Release:     rel,
	}

	if err = d.upload(ctx, token, archive, rel); err != nil {
		if d.cfg.FailOnUploadError {
			return nil, err
		}

		logger.ErrorKV(ctx, "Deployment failed, continuing", "error", err)

		return result, nil
	}

	result.Uploaded = true

	logger.InfoKV(ctx, "Deployment completed", "version", rel.Version, "archive", archive.Path)

	return result, nil
}

// prepare builds the archive and reads the release metadata concurrently.
// A failure in either cancels the other.
func (d *deployer) prepare(ctx context.Context) (*archiver.Result, *release.Release, error) {
	var (
		archive *archiver.Result
		rel     *release.Release
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		patterns, err := archiver.ResolveIgnorePatterns(groupCtx, d.fs, d.cfg.SourcePath(d.cfg.IgnoreFile))
		if err != nil {
			return err
		}

		logger.DebugKV(groupCtx, "Resolved ignore patterns", "patterns", patterns)

		archive, err = d.archiver.Build(groupCtx, &archiver.Options{
			SourceDir:      d.cfg.SourceDir,
			OutputPath:     d.cfg.ArchivePath(),
			BaseFolder:     d.cfg.PluginSlug,
			IgnorePatterns: patterns,
			IncludeHidden:  d.cfg.IncludeHidden,
		})
		if err != nil {
			return fmt.Errorf("build archive: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		var err error

		rel, err = d.metadata.Release(groupCtx)
		if err != nil {
			return fmt.Errorf("read release metadata: %w", err)
		}

		logger.InfoKV(groupCtx, "Release metadata loaded",
			"version", rel.Version,
			"has_changelog", rel.Changelog != "")

		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, nil, err
	}

	return archive, rel, nil
}

// upload sends the archive to the deployment service.
func (d *deployer) upload(ctx context.Context, token string, archive *archiver.Result, rel *release.Release) error {
	file, err := d.fs.Open(archive.Path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	logger.InfoKV(ctx, "Uploading release",
		"url", d.client.VersionsURL(d.cfg.PluginID),
		"version", rel.Version,
		"size", units.HumanSize(float64(archive.Size)))

	body, err := d.client.UploadVersion(ctx, token, d.cfg.PluginID, &kernl.Upload{
		Version:   rel.Version,
		Changelog: rel.Changelog,
		FileName:  filepath.Base(archive.Path),
		Size:      archive.Size,
		Content:   file,
	})
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Deployment service accepted the release", "response", string(body))

	return nil
}
