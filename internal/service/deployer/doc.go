// Package deployer publishes a plugin release to Kernl.
//
// A run authenticates first, then builds the archive and reads the release
// metadata concurrently, and finally uploads the archive. Failures before
// the upload abort the run; upload failures are logged and, unless
// configured otherwise, do not fail it.
package deployer
