// Package storage holds the two byte stores of the moderation pipeline: the
// private staging area for submissions awaiting review and the durable object
// store that published assets live in.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrStagedFileMissing is returned when a staged path has no file behind it.
var ErrStagedFileMissing = errors.New("staged file missing")

// ErrInvalidStagedPath is returned for relative paths that escape the root.
var ErrInvalidStagedPath = errors.New("invalid staged path")

const maxSanitizedNameRunes = 100

// StagingStore keeps submission bytes on local disk under root. Paths handed
// out are relative to root and always of the form category/name.
type StagingStore struct {
	root      string
	urlPrefix string
}

// NewStagingStore creates the root directory if needed.
func NewStagingStore(root, urlPrefix string) (*StagingStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("staging root is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create staging root: %w", err)
	}
	return &StagingStore{root: root, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

// Root returns the absolute-or-configured staging root.
func (s *StagingStore) Root() string { return s.root }

// Write stores data as category/name and returns that relative path. The
// final path only ever holds a complete file.
func (s *StagingStore) Write(category, name string, data []byte) (string, error) {
	rel := path.Join(category, name)
	abs, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return "", fmt.Errorf("failed to write staged data: %w", err)
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		_ = tmpFile.Close()
		return "", fmt.Errorf("failed to chmod staged file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, abs); err != nil {
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return rel, nil
}

// Read returns the staged bytes or ErrStagedFileMissing.
func (s *StagingStore) Read(rel string) ([]byte, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrStagedFileMissing, rel)
		}
		return nil, fmt.Errorf("failed to read staged file: %w", err)
	}
	return data, nil
}

func (s *StagingStore) Exists(rel string) bool {
	abs, err := s.Resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// Delete removes a staged file. A missing file is not an error.
func (s *StagingStore) Delete(rel string) error {
	if rel == "" {
		return nil
	}
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete staged file: %w", err)
	}
	return nil
}

// Resolve maps a relative staged path to a filesystem path under root.
func (s *StagingStore) Resolve(rel string) (string, error) {
	if rel == "" || strings.ContainsRune(rel, 0) {
		return "", ErrInvalidStagedPath
	}
	if path.IsAbs(rel) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrInvalidStagedPath, rel)
	}
	clean := path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrInvalidStagedPath, rel)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// PreviewURL is the reviewer-only URL for a staged path.
func (s *StagingStore) PreviewURL(rel string) string {
	return s.urlPrefix + "/" + rel
}

// StagedName builds <unixmillis>-<token>-<sanitized original name>. The same
// shape is used for durable object keys.
func StagedName(now time.Time, token, originalName string) string {
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), token, SanitizeFilename(originalName))
}

// SanitizeFilename keeps [a-zA-Z0-9._-], replaces runs of anything else with a
// single underscore and caps the result at 100 runes.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-'
		if ok {
			b.WriteRune(r)
			lastUnderscore = r == '_'
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	out := strings.Trim(b.String(), "._")
	if utf8.RuneCountInString(out) > maxSanitizedNameRunes {
		out = string([]rune(out)[:maxSanitizedNameRunes])
	}
	if out == "" {
		return "upload"
	}
	return out
}
