package vram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"annotd/internal/common/fsutil"
)

// ProfileStore persists the peak VRAM observed per (service, fingerprint).
// Implementations must never lower a stored value.
type ProfileStore interface {
	// Load returns the stored peak; ok is false when no profile exists yet.
	Load(ctx context.Context, app, fingerprint string) (peak uint64, ok bool, err error)
	// Ratchet stores peak if it is strictly greater than the stored value and
	// reports whether anything was written.
	Ratchet(ctx context.Context, app, fingerprint string, peak uint64) (updated bool, err error)
}

// DefaultProfileRoot is <user cache>/annotd/memory_profiles.
func DefaultProfileRoot() (string, error) {
	base, err := fsutil.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "annotd", "memory_profiles"), nil
}

// SanitizeIdentity makes a service identity (often a URL) usable as a
// single path segment.
func SanitizeIdentity(app string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, app)
	if s == "" || strings.Trim(s, ".") == "" {
		return "_" + s
	}
	return s
}

// FileStore keeps one small decimal file per profile:
//
//	<root>/<sanitized app>/memory_<fingerprint>.txt
//
// Writers in different processes are not coordinated; a concurrent
// higher peak may be lost but the stored value never decreases.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore { return &FileStore{root: root} }

// Path returns the profile file for app and fingerprint.
func (s *FileStore) Path(app, fingerprint string) string {
	return filepath.Join(s.root, SanitizeIdentity(app), "memory_"+fingerprint+".txt")
}

func (s *FileStore) Load(_ context.Context, app, fingerprint string) (uint64, bool, error) {
	b, err := os.ReadFile(s.Path(app, fingerprint))
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read profile: %w", err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse profile: %w", err)
	}
	return n, true, nil
}

func (s *FileStore) Ratchet(ctx context.Context, app, fingerprint string, peak uint64) (bool, error) {
	cur, ok, err := s.Load(ctx, app, fingerprint)
	// An unreadable profile is overwritten rather than left to block updates.
	if err == nil && ok && peak <= cur {
		return false, nil
	}
	if err := fsutil.WriteFileAtomic(s.Path(app, fingerprint), []byte(strconv.FormatUint(peak, 10)), 0o644); err != nil {
		return false, fmt.Errorf("write profile: %w", err)
	}
	return true, nil
}
