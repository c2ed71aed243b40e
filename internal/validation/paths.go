// Package validation keeps files rebuilt from manifests inside the output
// directory.
package validation

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/ZazaJr24/CSF-Downloader/internal/storage"
)

// ValidateFilename validates a single path element taken from a manifest.
//
// Returns an error if the name:
//   - Is empty, "." or ".."
//   - Contains path separators (/ or \)
//   - Contains null bytes
func ValidateFilename(filename string) error {
	if filename == "" || filename == "." {
		return fmt.Errorf("filename cannot be empty")
	}
	if strings.ContainsRune(filename, 0) {
		return fmt.Errorf("filename contains null byte: %q", filename)
	}
	if strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("filename cannot contain path separators: %s", filename)
	}
	// "foo..bar.txt" is legitimate; only the literal parent reference is not.
	if filename == ".." {
		return fmt.Errorf("filename cannot be '..': %s", filename)
	}
	return nil
}

// ValidatePathInDirectory validates that a path, when resolved, stays within baseDir.
//
// Both path and baseDir are cleaned and made absolute before comparison.
//
//	ValidatePathInDirectory("../../etc/passwd", "/tmp/out") // Error: escapes base dir
//	ValidatePathInDirectory("bin/game.dll", "/tmp/out")     // OK
func ValidatePathInDirectory(p string, baseDir string) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if baseDir == "" {
		return fmt.Errorf("base directory cannot be empty")
	}

	cleanBase, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}

	resolved := filepath.Clean(p)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(cleanBase, resolved)
	}

	rel, err := filepath.Rel(cleanBase, resolved)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s (base: %s)", p, baseDir)
	}
	return nil
}

// TargetPath maps a manifest file path onto outputDir. The manifest path
// is sanitized first (backslashes, leading slashes and ".." removed); with
// flatten only its last element is kept. The result is verified to stay
// inside outputDir.
func TargetPath(outputDir, manifestPath string, flatten bool) (string, error) {
	rel := storage.SanitizeRelPath(manifestPath)
	if flatten {
		rel = path.Base(rel)
		if err := ValidateFilename(rel); err != nil {
			return "", err
		}
	}
	if rel == "" || strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("invalid manifest path %q", manifestPath)
	}

	target := filepath.Join(outputDir, filepath.FromSlash(rel))
	if err := ValidatePathInDirectory(target, outputDir); err != nil {
		return "", err
	}
	return target, nil
}
