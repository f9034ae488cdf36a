// Package release defines what a plugin release is made of: a version
// string and the changelog text published with it.
package release
