// Package cmd implements the command-line interface of dBridge. It wires a
// dispatcher serving the file operations of lib/fsops to a channel in the same
// process and performs calls over it.
//
// The package is organized into subpackages:
//
//   - fs: Commands for file operations (stat, cat, write, ls, ...), raw calls,
//     the operation listing and the perf tool
//   - util: Shared utilities for configuration and session setup (internal use)
//
// See dbridge -help for a list of all commands.
package cmd
