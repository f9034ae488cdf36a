// Package version exposes build metadata for kernl-deploy.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. UserAgent identifies the tool to the deployment service.
package version
