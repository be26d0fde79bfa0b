// Package fsops provides a set of file system operations that can be served
// over a bridge. All paths are relative to a root directory; a path that
// leaves the root, also through a symlink, fails with the error name
// PathEscape.
//
// Operations (argument lists as sent by the caller):
//
//	fs.stat      (path)                      -> {name, kind, size, mode, modTime}
//	fs.readFile  (path, [offset], [length])  -> bytes
//	fs.writeFile (path, data, [append])      -> bytes written
//	fs.mkdir     (path, [parents])           -> nil
//	fs.readDir   (path)                      -> [{name, kind, size}]
//	fs.remove    (path, [recursive])         -> nil
//
// Writes replace the target atomically (temporary file, fsync, rename) unless
// append is set. Failures are *Error values whose Name (NotFound,
// AlreadyExists, ...) is preserved across the bridge.
package fsops
