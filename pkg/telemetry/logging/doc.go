// Package logging configures the process-wide structured logger.
//
// All components log through log/slog with a component attribute, e.g.
// slog.Default().With("component", "retention.archive"). Setup builds
// the handler from configuration and installs it as the slog default,
// so component loggers pick it up without plumbing.
package logging
