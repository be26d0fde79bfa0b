//go:build unix

package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// shmDir returns the directory used for named segments: /dev/shm where it
// exists, the temp dir otherwise.
func shmDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// SharedPath returns the file backing the named segment
func SharedPath(name string) string {
	return filepath.Join(shmDir(), "dbridge-"+name)
}

func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid shared segment name %q", name)
	}
	return nil
}

// CreateShared creates a named shared segment of the given length. The name
// must not exist yet; the memory is zeroed.
func CreateShared(name string, length int) (*Segment, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if length < MinLength {
		return nil, fmt.Errorf("segment length %d is below minimum %d", length, MinLength)
	}
	path := SharedPath(name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("create shared segment %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			Logger.Warningf("file close error: %v", cerr)
		}
	}()

	if err := f.Truncate(int64(length)); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("truncate shared segment: %w", err)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("mmap shared segment: %w", err)
	}

	Logger.Debugf("created shared segment %s (%d bytes)", path, length)
	return &Segment{
		mem:    mem,
		shared: true,
		name:   name,
		path:   path,
		unmap:  unix.Munmap,
	}, nil
}

// OpenShared maps an existing named segment with its full length.
func OpenShared(name string) (*Segment, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	path := SharedPath(name)

	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open shared segment %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			Logger.Warningf("file close error: %v", cerr)
		}
	}()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	length := int(fi.Size())
	if length < MinLength {
		return nil, fmt.Errorf("shared segment %s has length %d, below minimum %d", path, length, MinLength)
	}

	mem, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap shared segment: %w", err)
	}

	return &Segment{
		mem:    mem,
		shared: true,
		name:   name,
		path:   path,
		unmap:  unix.Munmap,
	}, nil
}

// Unlink removes the backing file of a shared segment. Existing mappings stay
// valid until they are closed.
func (s *Segment) Unlink() error {
	if !s.shared {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink shared segment %s: %w", s.path, err)
	}
	return nil
}
