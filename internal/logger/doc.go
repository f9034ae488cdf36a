// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a plain console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Services accept a context and extract the logger from it, so tests can
// swap in an observed logger without touching globals.
package logger
