// Package security guards handlers that touch the filesystem with
// request-derived names: snapshot downloads are confined to the
// snapshot directory, and run ids are scrubbed before they become
// directory names.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory returns an error unless filePath stays
// inside safeDir once relative segments and symlinks are resolved.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalSafeDir, canonicalize(absPath))
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// canonicalize resolves symlinks in an absolute path. When the path
// does not exist yet, the deepest existing ancestor is resolved and the
// remaining components rejoined, so a symlinked parent cannot smuggle a
// new file outside the tree.
func canonicalize(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}
	for dir := filepath.Dir(absPath); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, err := filepath.Rel(dir, absPath)
			if err != nil {
				return absPath
			}
			return filepath.Join(resolved, rel)
		}
		if dir == filepath.Dir(dir) {
			// Hit the root without finding anything that exists.
			return absPath
		}
	}
}

// SanitizeFilename reduces an arbitrary identifier to a string safe to
// embed in a file or directory name. Anything outside ASCII letters,
// digits, '.', '_' and '-' collapses to a single underscore; the result
// is capped at 128 bytes and stripped of leading and trailing '.' and
// '_'. Identifiers that sanitize away entirely come back as "unknown".
func SanitizeFilename(s string) string {
	const maxLen = 128

	var b strings.Builder
	prevSub := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		if safeFilenameRune(r) {
			b.WriteRune(r)
			prevSub = false
			continue
		}
		if !prevSub {
			b.WriteByte('_')
			prevSub = true
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

func safeFilenameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == '-':
		return true
	}
	return false
}
