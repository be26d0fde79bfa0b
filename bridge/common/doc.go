// Package common provides core data structures and utilities shared across
// the caller and callee sides of the bridge. It defines the protocol elements,
// the error taxonomy, the channel configuration and the logging setup used by
// all other packages.
//
// The package focuses on:
//   - Request/Response definition for the single in-flight call of a channel
//   - A closed set of stable error names that survive the segment boundary
//   - Configuration for the channel (segment length, timeouts, worker count)
//   - Custom logging implementation integrated with Dragonboat's logger package
//
// Key Components:
//
//   - Request / Response: The two messages carried in the shared segment. A
//     Request names an operation (OpID) and carries an ordered argument list;
//     a Response carries either a value or an ErrorDescriptor.
//
//   - BridgeError: Stable, machine-readable error class. Only the name and the
//     message of an error cross the boundary; FromDescriptor rebuilds the
//     concrete error on receipt.
//
//   - ChannelConfig: Connect-time parameters of a channel, including the total
//     segment length and the default per-call timeout.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's
//     logging system while providing consistent formatting across the bridge.
package common
