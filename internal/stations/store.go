// Package stations persists the station presets in a JSON file. Writes are
// debounced and atomic; edits made to the file by hand are picked up through
// fsnotify.
package stations

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/rtlsdr-radio/rtlsdr-radio/internal/models"
)

const (
	// FileName is the preset file inside the data directory.
	FileName      = "stations.json"
	debounceDelay = 500 * time.Millisecond
)

// ErrNotFound is returned for an unknown station id.
var ErrNotFound = errors.New("station not found")

// fileFormat is the on-disk layout. DefaultMode records which default set
// the file was seeded with so a change of DEFAULT_STATIONS re-seeds it.
type fileFormat struct {
	DefaultMode string           `json:"default_mode"`
	Stations    []models.Station `json:"stations"`
}

// Store holds the presets in memory and mirrors them to disk.
type Store struct {
	path string
	mode string

	mu       sync.RWMutex
	stations []models.Station
	timer    *time.Timer
	pending  bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Open loads dataDir/stations.json, seeding it with the defaults for mode
// when the file is missing, unreadable, or was seeded for another mode.
func Open(dataDir, mode string) (*Store, error) {
	mode = NormalizeMode(mode)
	s := &Store{path: filepath.Join(dataDir, FileName), mode: mode, done: make(chan struct{})}

	f, err := s.read()
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.seed()
	case err != nil:
		slog.Error("stations: failed to load, recreating defaults", "path", s.path, "err", err)
		s.seed()
	case f.DefaultMode != mode:
		slog.Info("stations: default set changed, recreating defaults", "from", f.DefaultMode, "to", mode)
		s.seed()
	default:
		s.stations = f.Stations
		slog.Info("stations: loaded", "count", len(s.stations))
	}
	if s.pending {
		if err := s.Flush(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// read parses the file. The legacy format, a bare array, has no mode.
func (s *Store) read() (*fileFormat, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var f fileFormat
	if trimmed := strings.TrimSpace(string(data)); strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &f.Stations); err != nil {
			return nil, err
		}
		return &f, nil
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) seed() {
	s.stations = nil
	for _, st := range Defaults(s.mode) {
		st.ID = newID()
		s.stations = append(s.stations, st)
	}
	s.pending = true
	slog.Info("stations: created defaults", "mode", s.mode, "count", len(s.stations))
}

func newID() string { return uuid.NewString()[:8] }

// List returns every station in insertion order.
func (s *Store) List() []models.Station {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Station(nil), s.stations...)
}

// Get returns one station.
func (s *Store) Get(id string) (models.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(id); i >= 0 {
		return s.stations[i], nil
	}
	return models.Station{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *Store) index(id string) int {
	for i := range s.stations {
		if s.stations[i].ID == id {
			return i
		}
	}
	return -1
}

// FindFM returns the FM preset on freq (MHz), if any.
func (s *Store) FindFM(freq float64) (models.Station, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.stations {
		if st.StationType == models.StationFM && st.Frequency != nil && math.Abs(*st.Frequency-freq) < 0.05 {
			return st, true
		}
	}
	return models.Station{}, false
}

// Create validates st, assigns it an id and stores it.
func (s *Store) Create(st models.Station) (models.Station, error) {
	if err := st.Validate(); err != nil {
		return models.Station{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st.ID = newID()
	s.stations = append(s.stations, st)
	s.scheduleSave()
	return st, nil
}

// Update applies a partial update. The result must still validate.
func (s *Store) Update(id string, u models.StationUpdate) (models.Station, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return models.Station{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := s.stations[i]
	u.Apply(&next)
	if err := next.Validate(); err != nil {
		return models.Station{}, err
	}
	s.stations[i] = next
	s.scheduleSave()
	return next, nil
}

// Delete removes a station.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.stations = append(s.stations[:i], s.stations[i+1:]...)
	s.scheduleSave()
	return nil
}

// scheduleSave must be called with mu held.
func (s *Store) scheduleSave() {
	s.pending = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(debounceDelay, func() {
		if err := s.Flush(); err != nil {
			slog.Error("stations: failed to write", "path", s.path, "err", err)
		}
	})
}

// Flush writes pending changes immediately.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if !s.pending {
		s.mu.Unlock()
		return nil
	}
	f := fileFormat{DefaultMode: s.mode, Stations: append([]models.Station{}, s.stations...)}
	s.pending = false
	s.mu.Unlock()
	return writeAtomic(s.path, f)
}

func writeAtomic(path string, f fileFormat) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Reload re-reads the file. It is skipped while a local change is waiting to
// be written.
func (s *Store) Reload() error {
	f, err := s.read()
	if err != nil {
		return err
	}
	for i := range f.Stations {
		if err := f.Stations[i].Validate(); err != nil {
			return fmt.Errorf("station %q: %w", f.Stations[i].ID, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return nil
	}
	s.stations = f.Stations
	slog.Debug("stations: reloaded", "count", len(f.Stations))
	return nil
}

// Watch reloads the store whenever the file changes on disk, until Close.
func (s *Store) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != s.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if err := s.Reload(); err != nil {
				slog.Warn("stations: failed to reload", "err", err)
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("stations: watcher error", "err", err)
		}
	}
}

// Close stops watching and writes pending changes.
func (s *Store) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	return s.Flush()
}
