// Package config defines the settings of a deployment run and provides
// helpers to load them from YAML, validate them and fill defaults.
//
// Settings usually arrive as GitHub Actions inputs or CLI flags; the YAML
// file is optional and has the lowest precedence.
package config
