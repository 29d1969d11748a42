// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package logging provides the structured, leveled logger forkscan's
// collector and reclaimer use for cycle-start/cycle-end/fatal diagnostics.
//
// It is a thin shim over log/slog so call sites can pass a *slog.Logger (or
// nil, for the package default writing to os.Stderr) without every package
// in the module importing log/slog directly.
package logging

import (
	"log/slog"
	"os"
)

// Default returns the package-wide fallback logger when a caller passes nil.
func Default() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Or returns l if non-nil, otherwise Default().
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Default()
}
