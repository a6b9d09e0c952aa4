package engine

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-lynx/eventdaemon/log"
)

// stateVersion is bumped whenever persistedState's shape changes in a way
// that isn't backward-compatible with gob's own field-by-name tolerance.
const stateVersion = 1

// PluginCursor is one plugin's durable position, the persisted twin of
// plugin.Cursor (kept as a distinct type so the gob-encoded state file
// does not depend on package plugin's types; engine.go converts between
// the two with toPluginCursors/fromPluginCursors).
type PluginCursor struct {
	LastID  *int64
	Backlog map[int64]time.Time
}

// CursorMap is the full durable commit record: collection path -> plugin
// name -> cursor.
type CursorMap map[string]map[string]PluginCursor

type persistedState struct {
	Version int
	Cursors CursorMap
}

// StateStore persists CursorMap to a single file with an atomic
// temp-file-plus-rename write, and reads it back on startup, falling
// back to a legacy single-integer format if the file predates the gob
// encoding.
type StateStore struct {
	path string
}

// NewStateStore builds a StateStore backed by the file at path.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// LoadResult is what StateStore.Load returns: either a full CursorMap
// (Legacy=false) or a single legacy cursor value every plugin should be
// seeded with (Legacy=true), or Found=false if no state file exists yet.
type LoadResult struct {
	Found   bool
	Legacy  bool
	Cursor  int64
	Cursors CursorMap
}

// Load reads the state file. A missing file is not an error (Found=false,
// the caller bootstraps from upstream). A file that doesn't parse as the
// versioned gob blob is read as a legacy file: first line interpreted as
// a decimal integer cursor.
func (s *StateStore) Load() (LoadResult, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return LoadResult{Found: false}, nil
		}
		return LoadResult{}, fmt.Errorf("state store: read %s: %w", s.path, err)
	}

	var ps persistedState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ps); err == nil && ps.Version > 0 {
		return LoadResult{Found: true, Cursors: ps.Cursors}, nil
	}

	log.Warnf("state store: %s is not a recognized gob blob, falling back to legacy single-cursor format", s.path)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() {
		return LoadResult{}, fmt.Errorf("state store: %s is empty and not a valid state file", s.path)
	}
	line := strings.TrimSpace(scanner.Text())
	cursor, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return LoadResult{}, fmt.Errorf("state store: %s is neither gob-encoded nor a legacy integer: %w", s.path, err)
	}
	return LoadResult{Found: true, Legacy: true, Cursor: cursor}, nil
}

// Save writes the full cursor map in one atomic replace: encode to a
// temp file in the state file's directory, fsync, then rename over the
// configured path. Skipped (with a warning) if cursors is empty — there
// is nothing yet worth persisting.
func (s *StateStore) Save(cursors CursorMap) error {
	if len(cursors) == 0 {
		log.Warnf("state store: no plugin has any cursor state yet, skipping write")
		return nil
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(persistedState{Version: stateVersion, Cursors: cursors}); err != nil {
		return fmt.Errorf("state store: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("state store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("state store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state store: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("state store: rename into place: %w", err)
	}
	return nil
}
