package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/oshokin/kernl-deploy/internal/actions"
	"github.com/oshokin/kernl-deploy/internal/config"
	"github.com/oshokin/kernl-deploy/internal/logger"
	"github.com/oshokin/kernl-deploy/internal/service/deployer"
	"github.com/oshokin/kernl-deploy/internal/version"
)

const (
	// configFlag points to an optional YAML settings file.
	configFlag = "config"
	// zipPathOutput is the step output holding the archive path.
	zipPathOutput = "zip-path"

	failOnUploadErrorInput = "fail-on-upload-error"
	includeHiddenInput     = "include-hidden"
	timeoutInput           = "timeout"
)

// stringInputs maps input names to the config fields they set.
// Flags and action inputs share these names.
func stringInputs(cfg *config.Config) map[string]*string {
	return map[string]*string{
		"plugin-id":      &cfg.PluginID,
		"plugin-slug":    &cfg.PluginSlug,
		"kernl-username": &cfg.Username,
		"kernl-password": &cfg.Password,
		"auth-url":       &cfg.AuthURL,
		"deployment-url": &cfg.DeploymentURL,
		"source":         &cfg.SourceDir,
		"output-dir":     &cfg.OutputDir,
		"ignore-file":    &cfg.IgnoreFile,
		"version-file":   &cfg.VersionFile,
		"changelog-file": &cfg.ChangelogFile,
		"log-level":      &cfg.LogLevel,
	}
}

// stringUsages documents the string flags.
//
//nolint:gochecknoglobals // Static help text.
var stringUsages = map[string]string{
	"plugin-id":      "Kernl plugin identifier",
	"plugin-slug":    "plugin slug, used as archive name and top-level folder",
	"kernl-username": "Kernl account email",
	"kernl-password": "Kernl account password",
	"auth-url":       "authentication endpoint (default " + config.DefaultAuthURL + ")",
	"deployment-url": "plugins endpoint (default " + config.DefaultDeploymentURL + ")",
	"source":         "plugin directory to archive (default " + config.DefaultSourceDir + ")",
	"output-dir":     "directory for the archive (default: the source directory)",
	"ignore-file":    "ignore patterns file (default " + config.DefaultIgnoreFilename + ")",
	"version-file":   "version file (default " + config.DefaultVersionFilename + ")",
	"changelog-file": "changelog file (default " + config.DefaultChangelogFilename + ")",
	"log-level":      "log level: debug, info, warn, error (default " + config.DefaultLogLevel + ")",
}

// newRootCmd builds the kernl-deploy command bound to the given runner.
func newRootCmd(runner *actions.Runner) *cobra.Command {
	flagValues := new(config.Config)

	rootCmd := &cobra.Command{
		Use:   "kernl-deploy",
		Short: "Archive a plugin and publish it to Kernl",
		Long: "kernl-deploy zips the plugin working tree, reads the release version and changelog " +
			"and uploads a new plugin version to Kernl. Every flag falls back to the GitHub Actions " +
			"input of the same name.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return run(ctx, runner, cmd.Flags(), flagValues)
		},
	}

	registerFlags(rootCmd.Flags(), flagValues)
	version.AttachCobraVersionCommand(rootCmd)

	return rootCmd
}

// Execute runs the kernl-deploy CLI and exits with non-zero status on error.
func Execute() {
	runner := actions.NewRunner()

	if err := newRootCmd(runner).ExecuteContext(context.Background()); err != nil {
		runner.SetFailed(err.Error())
		logger.Sync()
		os.Exit(1)
	}

	logger.Sync()
}

func registerFlags(flags *pflag.FlagSet, values *config.Config) {
	flags.StringP(configFlag, "c", "", "path to an optional YAML settings file")

	for name, target := range stringInputs(values) {
		flags.StringVar(target, name, "", stringUsages[name])
	}

	flags.DurationVar(&values.Timeout, timeoutInput, config.DefaultTimeout, "timeout of each request to Kernl")
	flags.BoolVar(&values.FailOnUploadError, failOnUploadErrorInput, false, "fail the run when the upload fails")
	flags.BoolVar(&values.IncludeHidden, includeHiddenInput, false, "archive dot-files and dot-directories")
}

func run(ctx context.Context, runner *actions.Runner, flags *pflag.FlagSet, flagValues *config.Config) error {
	cfg, err := resolveConfig(runner, flags, flagValues)
	if err != nil {
		return err
	}

	runner.SetSecret(cfg.Password)

	if lvl, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(lvl)
	} else {
		logger.WarnKV(ctx, "Unknown log level, using info", "level", cfg.LogLevel)
	}

	result, err := deployer.Run(ctx, &deployer.Options{Config: cfg})
	if err != nil {
		return err
	}

	return runner.SetOutput(zipPathOutput, result.ArchivePath)
}

// resolveConfig merges settings: explicit flag, then action input, then config file.
func resolveConfig(runner *actions.Runner, flags *pflag.FlagSet, flagValues *config.Config) (*config.Config, error) {
	cfg := new(config.Config)

	configPath, err := flags.GetString(configFlag)
	if err != nil {
		return nil, err
	}

	if configPath == "" {
		configPath = runner.Input(configFlag)
	}

	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	flagTargets := stringInputs(flagValues)
	for name, target := range stringInputs(cfg) {
		switch {
		case flags.Changed(name):
			*target = *flagTargets[name]
		case runner.Input(name) != "":
			*target = runner.Input(name)
		}
	}

	for name, target := range map[string]*bool{
		failOnUploadErrorInput: &cfg.FailOnUploadError,
		includeHiddenInput:     &cfg.IncludeHidden,
	} {
		if err = resolveBool(runner, flags, name, target); err != nil {
			return nil, err
		}
	}

	switch {
	case flags.Changed(timeoutInput):
		cfg.Timeout = flagValues.Timeout
	case runner.Input(timeoutInput) != "":
		if cfg.Timeout, err = time.ParseDuration(runner.Input(timeoutInput)); err != nil {
			return nil, fmt.Errorf("input %s: %w", timeoutInput, err)
		}
	}

	return cfg, nil
}

func resolveBool(runner *actions.Runner, flags *pflag.FlagSet, name string, target *bool) error {
	if flags.Changed(name) {
		value, err := flags.GetBool(name)
		if err != nil {
			return err
		}

		*target = value

		return nil
	}

	raw := runner.Input(name)
	if raw == "" {
		return nil
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("input %s: %w", name, err)
	}

	*target = value

	return nil
}
