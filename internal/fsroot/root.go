// Package fsroot resolves a client-supplied TFTP filename to a
// read-only file handle rooted at a single served directory, refusing
// any request that would read outside of it.
package fsroot

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/pxeboot/tftpd/internal/wire"
)

// Reason classifies why a lookup failed, so the caller can map it to
// the right TFTP error code.
type Reason int

const (
	// ReasonOther covers any I/O failure not otherwise classified.
	ReasonOther Reason = iota
	ReasonNotFound
	ReasonDenied
)

// Error wraps a filesystem failure with the TFTP-facing Reason.
type Error struct {
	Reason Reason
	err    error
}

func (e *Error) Error() string { return e.err.Error() }
func (e *Error) Unwrap() error { return e.err }

// WireCode maps a Reason to the RFC 1350 error code it should be
// reported as.
func (e *Error) WireCode() wire.ErrorCode {
	switch e.Reason {
	case ReasonNotFound:
		return wire.ErrFileNotFound
	case ReasonDenied:
		return wire.ErrAccessViolation
	default:
		return wire.ErrUndefined
	}
}

func newError(reason Reason, err error) *Error {
	return &Error{Reason: reason, err: err}
}

// Root is a canonicalised served directory. It is opened once at
// startup and shared read-only by every Session.
type Root struct {
	base string // absolute, symlink-free, no trailing separator
}

// Open canonicalises dir and verifies it exists and is a directory.
func Open(dir string) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrap(err, "fsroot: resolve absolute path")
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "fsroot: canonicalise root %q", dir)
	}
	info, err := os.Stat(canon)
	if err != nil {
		return nil, errors.Wrapf(err, "fsroot: stat root %q", dir)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("fsroot: %q is not a directory", dir)
	}
	return &Root{base: filepath.Clean(canon)}, nil
}

// Base returns the canonicalised absolute root path.
func (r *Root) Base() string { return r.base }

// rejectedFilename refuses filename shapes before any filesystem
// access: empty, containing NUL, absolute, or any ".." path component.
func rejectedFilename(name string) bool {
	if name == "" || strings.ContainsRune(name, 0) {
		return true
	}
	if filepath.IsAbs(name) {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

// Open resolves name against the root, symlink-expands the result, and
// verifies containment before opening it read-only. The returned
// ReadCloser and size are valid only on a nil error.
func (r *Root) Open(name string) (io.ReadCloser, int64, error) {
	if rejectedFilename(name) {
		return nil, 0, newError(ReasonDenied, errors.Errorf("fsroot: rejected filename %q", name))
	}

	joined := filepath.Join(r.base, filepath.FromSlash(name))

	canon, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, newError(ReasonNotFound, errors.Wrapf(err, "fsroot: %q", name))
		}
		return nil, 0, newError(ReasonOther, errors.Wrapf(err, "fsroot: %q", name))
	}

	if !r.contains(canon) {
		return nil, 0, newError(ReasonDenied, errors.Errorf("fsroot: %q escapes root", name))
	}

	f, err := os.Open(canon)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, newError(ReasonNotFound, errors.Wrapf(err, "fsroot: %q", name))
		}
		if os.IsPermission(err) {
			return nil, 0, newError(ReasonDenied, errors.Wrapf(err, "fsroot: %q", name))
		}
		return nil, 0, newError(ReasonOther, errors.Wrapf(err, "fsroot: %q", name))
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, newError(ReasonOther, errors.Wrapf(err, "fsroot: stat %q", name))
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, newError(ReasonDenied, errors.Errorf("fsroot: %q is a directory", name))
	}

	return f, info.Size(), nil
}

// contains reports whether canon is the root itself or lies strictly
// beneath it, after symlink expansion.
func (r *Root) contains(canon string) bool {
	canon = filepath.Clean(canon)
	if canon == r.base {
		return true
	}
	return strings.HasPrefix(canon, r.base+string(filepath.Separator))
}
