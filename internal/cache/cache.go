// Package cache stores successful tool results on disk for servers that
// opt in with a cache_ttl.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lydakis/ollamcp/internal/paths"
)

type entry struct {
	Server  string    `json:"server"`
	Tool    string    `json:"tool"`
	Output  string    `json:"output"`
	Created time.Time `json:"created"`
	Expires time.Time `json:"expires"`
}

// Store is a directory of result entries, one file per
// (server, tool, arguments) key.
type Store struct {
	dir string
	now func() time.Time
}

// New returns a store rooted at dir, or at the user cache directory when
// dir is empty.
func New(dir string) *Store {
	if dir == "" {
		dir = paths.ResultCacheDir()
	}
	return &Store{dir: dir, now: time.Now}
}

// Dir returns the directory entries are written to.
func (s *Store) Dir() string { return s.dir }

// Get returns a cached output. Expired and unreadable entries are removed
// and reported as misses.
func (s *Store) Get(server, tool string, args map[string]any) (string, bool) {
	path, err := s.entryPath(server, tool, args)
	if err != nil {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		_ = os.Remove(path)
		return "", false
	}
	if s.now().After(e.Expires) {
		_ = os.Remove(path)
		return "", false
	}
	return e.Output, true
}

// Put stores output for ttl.
func (s *Store) Put(server, tool string, args map[string]any, output string, ttl time.Duration) error {
	path, err := s.entryPath(server, tool, args)
	if err != nil {
		return err
	}
	if err := paths.EnsureDir(s.dir); err != nil {
		return err
	}

	now := s.now()
	data, err := json.Marshal(entry{
		Server:  server,
		Tool:    tool,
		Output:  output,
		Created: now,
		Expires: now.Add(ttl),
	})
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Purge removes every entry and returns how many were deleted.
func (s *Store) Purge() (int, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return n, err
		}
		n++
	}
	return n, nil
}

// entryPath hashes the key. Arguments are encoded with sorted map keys so
// equal argument sets share an entry.
func (s *Store) entryPath(server, tool string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	canonical, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode cache key: %w", err)
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s", server, tool, canonical)
	key := hex.EncodeToString(h.Sum(nil))[:32]
	return filepath.Join(s.dir, key+".json"), nil
}
