// Package playout owns the on-disk artifact layout consumed by the playout
// file server: one directory per stream holding a live playlist manifest and
// a rolling window of transport-stream segments.
package playout

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// PlaylistName is the manifest filename inside every stream directory.
	PlaylistName = "playlist.m3u8"

	dirPrefix = "stream_"
)

// Store manages per-stream output directories under a single root.
//
// Deletion after teardown is deferred: the playout file server may still be
// serving an in-flight segment fetch when a stream stops, so directories are
// removed only after a delay. A deferred deletion is cancelled when the same
// stream id is prepared again, so a restarted session never loses its fresh
// output to a stale timer.
type Store struct {
	root   string
	base   string
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewStore creates the root directory if needed. base is the public URL
// prefix under which the file server exposes the root (e.g. "/hls").
func NewStore(root, base string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("output root is required")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if base == "" {
		base = "/hls"
	}
	return &Store{
		root:    absRoot,
		base:    strings.TrimRight(base, "/"),
		logger:  logger,
		pending: make(map[string]*time.Timer),
	}, nil
}

// EnsureOutputDir prepares a clean directory for the stream, clearing any
// stale prior directory for the same id and cancelling a pending deferred
// deletion left over from an earlier session.
func (s *Store) EnsureOutputDir(streamID string) (string, error) {
	s.CancelDeletion(streamID)
	dir := s.streamDir(streamID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear stale output dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// PlaylistPath returns the manifest location for the stream.
func (s *Store) PlaylistPath(streamID string) string {
	return filepath.Join(s.streamDir(streamID), PlaylistName)
}

// PlayoutURL returns the externally addressable manifest path for the stream.
func (s *Store) PlayoutURL(streamID string) string {
	return path.Join(s.base, dirPrefix+sanitizeID(streamID), PlaylistName)
}

// ProbeReady reports whether the stream's manifest exists on disk. Manifest
// existence is the authoritative playability signal, independent of whether
// the transcoder process is alive.
func (s *Store) ProbeReady(streamID string) bool {
	_, err := os.Stat(s.PlaylistPath(streamID))
	return err == nil
}

// ScheduleDeletion arms removal of the stream's directory after delay.
// A previously armed deletion for the same id is replaced.
func (s *Store) ScheduleDeletion(streamID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.pending[streamID]; ok {
		timer.Stop()
	}
	dir := s.streamDir(streamID)
	s.pending[streamID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.pending, streamID)
		s.mu.Unlock()
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("remove stream directory", "stream_id", streamID, "error", err)
			return
		}
		s.logger.Debug("stream directory removed", "stream_id", streamID)
	})
}

// Remove deletes the stream's directory immediately, cancelling any pending
// deferred deletion. Used when a session fails before anything was served.
func (s *Store) Remove(streamID string) error {
	s.CancelDeletion(streamID)
	if err := os.RemoveAll(s.streamDir(streamID)); err != nil {
		return fmt.Errorf("remove stream directory: %w", err)
	}
	return nil
}

// CancelDeletion stops a pending deferred deletion. It reports whether a
// deletion was armed.
func (s *Store) CancelDeletion(streamID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.pending[streamID]
	if ok {
		timer.Stop()
		delete(s.pending, streamID)
	}
	return ok
}

// Close cancels all pending deletions. Directories are left on disk for the
// next process to clean up via EnsureOutputDir.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.pending {
		timer.Stop()
		delete(s.pending, id)
	}
}

func (s *Store) streamDir(streamID string) string {
	return filepath.Join(s.root, dirPrefix+sanitizeID(streamID))
}

// sanitizeID keeps stream ids filesystem- and URL-safe.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unnamed"
	}
	return b.String()
}
