// Package logx configures herald's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - call sites stable while sinks/levels change at runtime (Service.Apply),
//   - field helpers that read like slog without depending on slog,
//   - a zero-value logger that is always safe to use.
package logx
