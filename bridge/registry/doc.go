// Package registry holds the operations a callee can execute. Operations are
// identified by a 32 bit OpID; RegisterNamed derives the id from a name so
// both sides of a channel agree on it without sharing a table.
package registry
