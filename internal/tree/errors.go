package tree

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey means the physical backend no longer matches the key.
	ErrInvalidKey = errors.New("invalid key")
	// ErrNoData means a leaf has no readable 2-D image.
	ErrNoData = errors.New("no image data")
	// ErrUnsupported means an address is neither a folder nor a known image.
	ErrUnsupported = errors.New("unsupported entry")
	// ErrBackendMismatch is a programming error: an operation was applied to
	// an address of the wrong backend.
	ErrBackendMismatch = errors.New("backend mismatch")
	// ErrRoot is returned for operations that cannot target the project root.
	ErrRoot = errors.New("operation not allowed on project root")
)

// InvalidKeyError carries the address that failed and why.
type InvalidKeyError struct {
	Addr Address
	Err  error
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Addr, ErrInvalidKey, e.Err)
}

// Is lets errors.Is(err, ErrInvalidKey) match.
func (e *InvalidKeyError) Is(target error) bool { return target == ErrInvalidKey }

func (e *InvalidKeyError) Unwrap() error { return e.Err }

func invalid(a Address, err error) error {
	return &InvalidKeyError{Addr: a, Err: err}
}
