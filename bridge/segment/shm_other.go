//go:build !unix

package segment

import "errors"

var errSharedUnsupported = errors.New("segment: named shared memory is not supported on this platform")

// SharedPath is not supported on this platform
func SharedPath(name string) string {
	return ""
}

// CreateShared is not supported on this platform
func CreateShared(name string, length int) (*Segment, error) {
	return nil, errSharedUnsupported
}

// OpenShared is not supported on this platform
func OpenShared(name string) (*Segment, error) {
	return nil, errSharedUnsupported
}

// Unlink is a no-op on this platform
func (s *Segment) Unlink() error {
	return nil
}
