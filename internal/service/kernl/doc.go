// Package kernl is a client for the Kernl plugin deployment API.
//
// It exchanges account credentials for a bearer token and uploads plugin
// versions as multipart forms. Retries are deliberately absent: a CI run
// either deploys or reports what went wrong.
package kernl
