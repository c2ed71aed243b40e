// Package diskspace checks free space on the filesystem holding a path.
package diskspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// InsufficientSpaceError indicates that there is not enough disk space available.
type InsufficientSpaceError struct {
	Path           string
	RequiredBytes  int64
	AvailableBytes int64
}

func (e *InsufficientSpaceError) Error() string {
	requiredMB := float64(e.RequiredBytes) / (1024 * 1024)
	availableMB := float64(e.AvailableBytes) / (1024 * 1024)
	return fmt.Sprintf("insufficient disk space for %s: need %.2f MB, have %.2f MB available",
		e.Path, requiredMB, availableMB)
}

// CheckAvailableSpace reports whether requiredBytes (scaled by
// safetyMargin) fit on the filesystem holding dir. dir need not exist;
// its nearest existing ancestor is inspected.
//
// When the free space cannot be determined (network or virtual
// filesystems) the check passes and the write is left to fail on its own.
func CheckAvailableSpace(dir string, requiredBytes int64, safetyMargin float64) error {
	availableBytes, err := availableSpace(existingAncestor(dir))
	if err != nil {
		return nil
	}

	requiredWithMargin := int64(float64(requiredBytes) * safetyMargin)
	if availableBytes < requiredWithMargin {
		return &InsufficientSpaceError{
			Path:           dir,
			RequiredBytes:  requiredWithMargin,
			AvailableBytes: availableBytes,
		}
	}
	return nil
}

// GetAvailableSpace returns the available space in bytes for the
// filesystem holding dir. Returns 0 if unable to determine.
func GetAvailableSpace(dir string) int64 {
	n, err := availableSpace(existingAncestor(dir))
	if err != nil {
		return 0
	}
	return n
}

// IsInsufficientSpaceError checks if an error is an InsufficientSpaceError
func IsInsufficientSpaceError(err error) bool {
	var target *InsufficientSpaceError
	return errors.As(err, &target)
}

func existingAncestor(dir string) string {
	dir = filepath.Clean(dir)
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
