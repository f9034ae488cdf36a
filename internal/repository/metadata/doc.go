// Package metadata reads release metadata that lives next to the plugin
// sources: the version file and the JSON changelog.
package metadata
