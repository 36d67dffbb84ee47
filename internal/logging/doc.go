// Package logging builds the slog loggers used across quill and defines the
// standardized attribute keys shared by every component.
package logging
