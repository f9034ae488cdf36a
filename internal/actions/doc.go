// Package actions talks to the GitHub Actions runner: it reads step inputs
// from INPUT_* variables, publishes step outputs through GITHUB_OUTPUT and
// emits workflow commands for failures and secret masking.
package actions
