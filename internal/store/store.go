// Package store persists the list of saved beacons shown by the web UI.
// It has no coupling to what is currently being broadcast.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/beacon-control/bcc/internal/ibeacon"
)

// ErrInvalidBeacon is returned by Add for a record that is not a valid
// iBeacon identity.
var ErrInvalidBeacon = errors.New("INVALID_BEACON")

// SavedBeacon is one entry of the saved list.
type SavedBeacon struct {
	Name  string `json:"name,omitempty"`
	UUID  string `json:"uuid"`
	Major int    `json:"major"`
	Minor int    `json:"minor"`
	RSSI  int    `json:"rssi"`
}

// Identity validates the record and returns its identity.
func (b SavedBeacon) Identity() (ibeacon.Identity, error) {
	return ibeacon.ParseIdentity(b.UUID, b.Major, b.Minor, b.RSSI)
}

// Store reads and writes a JSON array of SavedBeacon.
type Store struct {
	mu   sync.Mutex
	path string
	log  logrus.FieldLogger
}

// New returns a store backed by path. The file is created on first write.
func New(path string, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{path: path, log: log.WithField("component", "store")}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// List returns the saved beacons. A missing or unreadable file is an empty
// list.
func (s *Store) List() []SavedBeacon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Add validates b, appends it and returns the new list. The stored UUID is
// the canonical hyphenated form.
func (s *Store) Add(b SavedBeacon) ([]SavedBeacon, error) {
	id, err := b.Identity()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBeacon, err)
	}
	b.UUID = id.UUID.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	beacons := append(s.load(), b)
	if err := s.save(beacons); err != nil {
		return nil, err
	}
	return beacons, nil
}

// Delete removes the entry at index and returns the new list. An index out
// of range leaves the list unchanged.
func (s *Store) Delete(index int) ([]SavedBeacon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	beacons := s.load()
	if index < 0 || index >= len(beacons) {
		return beacons, nil
	}
	beacons = append(beacons[:index], beacons[index+1:]...)
	if err := s.save(beacons); err != nil {
		return nil, err
	}
	return beacons, nil
}

func (s *Store) load() []SavedBeacon {
	beacons := []SavedBeacon{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.WithError(err).Warn("Failed to read saved beacons")
		}
		return beacons
	}
	if err := json.Unmarshal(data, &beacons); err != nil {
		s.log.WithError(err).Warn("Ignoring corrupt saved beacons file")
		return []SavedBeacon{}
	}
	if beacons == nil {
		beacons = []SavedBeacon{}
	}
	return beacons
}

func (s *Store) save(beacons []SavedBeacon) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(beacons, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal saved beacons: %w", err)
	}

	// Write to a temp file, then rename over the original.
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename saved beacons file: %w", err)
	}
	return nil
}
