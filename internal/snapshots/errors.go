package snapshots

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no snapshot exists under the given name.
	ErrNotFound = errors.New("snapshot not found")

	// ErrCorrupt is returned when a snapshot file cannot be decoded, fails
	// schema or layout validation, or its checksum does not match.
	ErrCorrupt = errors.New("snapshot is corrupt")

	// ErrUnsupportedVersion is returned for records written by a newer version.
	ErrUnsupportedVersion = errors.New("unsupported snapshot schema version")

	// ErrInvalidName is returned for names outside the portable charset.
	ErrInvalidName = errors.New("invalid snapshot name")

	// ErrInvalidLayout is returned when Save is handed a malformed layout.
	ErrInvalidLayout = errors.New("invalid snapshot layout")
)

// StoreError carries the operation, snapshot name and file path of a failure.
type StoreError struct {
	Op   string
	Name string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("snapshot %s %q (%s): %v", e.Op, e.Name, e.Path, e.Err)
	}
	return fmt.Sprintf("snapshot %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (s *Store) fail(op, name, path string, err error) error {
	return &StoreError{Op: op, Name: name, Path: path, Err: err}
}
