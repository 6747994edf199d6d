// Package logx configures hubrelay's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Optional ops webhook sink (min-level + rate limiting) so warnings
//     reach the same chat service the relay delivers to
package logx
