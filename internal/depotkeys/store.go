// Package depotkeys manages the AES keys needed to decrypt depot content
// and manifest filenames.
package depotkeys

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
	"github.com/ZazaJr24/CSF-Downloader/internal/logging"
	"github.com/ZazaJr24/CSF-Downloader/internal/storage"
)

// MissingKeyError is returned when content needs a depot key that is not
// known. It is scoped to the manifest or file that needed the key.
type MissingKeyError struct {
	DepotID uint32
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("no decryption key for depot %d", e.DepotID)
}

// Store holds depot keys. Keys come from a custom JSON file when one is
// given, otherwise from depot_keys.json in the data dir, plus keys added
// during the run.
//
// The file format is {"<depot id>": "<hex key>"}.
type Store struct {
	defaultFile storage.File
	customPath  string
	logger      *logging.Logger

	mu   sync.RWMutex
	keys map[uint32][]byte
}

// Open loads the key store. A custom file that cannot be loaded is logged
// and the default store is used instead.
func Open(dataDir storage.Dir, customPath string, logger *logging.Logger) *Store {
	s := &Store{
		defaultFile: dataDir.File(constants.DepotKeysFile),
		customPath:  customPath,
		logger:      logging.OrNop(logger),
	}
	s.keys = s.loadCached()
	return s
}

// loadCached reads the custom file, falling back to the default store.
func (s *Store) loadCached() map[uint32][]byte {
	if s.customPath != "" {
		keys, err := s.readCustom()
		if err == nil {
			s.logger.Info().Str("path", s.customPath).Int("keys", len(keys)).Msg("Loaded depot keys from custom file")
			return keys
		}
		s.logger.Warn().Err(err).Str("path", s.customPath).Msg("Custom depot key file unusable, falling back to default store")
	}

	keys, err := s.readDefault()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Default depot key store unreadable, starting empty")
		return make(map[uint32][]byte)
	}
	return keys
}

func (s *Store) readCustom() (map[uint32][]byte, error) {
	data, err := os.ReadFile(s.customPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read depot key file: %w", err)
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse depot key file: %w", err)
	}
	return s.decode(raw), nil
}

func (s *Store) readDefault() (map[uint32][]byte, error) {
	var raw map[string]string
	if _, err := s.defaultFile.ReadJSON(&raw); err != nil {
		return nil, err
	}
	return s.decode(raw), nil
}

func (s *Store) decode(raw map[string]string) map[uint32][]byte {
	keys := make(map[uint32][]byte, len(raw))
	for idStr, hexKey := range raw {
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			s.logger.Warn().Str("depot", idStr).Msg("Skipping depot key with invalid depot id")
			continue
		}
		key, err := hex.DecodeString(hexKey)
		if err != nil || len(key) == 0 {
			s.logger.Warn().Str("depot", idStr).Msg("Skipping malformed depot key")
			continue
		}
		keys[uint32(id)] = key
	}
	return keys
}

// Resolve returns the key for a depot.
func (s *Store) Resolve(depotID uint32) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[depotID]
	return key, ok
}

// Add records a key discovered during the run. The first key assigned to
// a depot wins; Add reports whether the key was stored.
func (s *Store) Add(depotID uint32, key []byte) bool {
	if len(key) == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[depotID]; exists {
		return false
	}
	s.keys[depotID] = slices.Clone(key)
	return true
}

// Len returns the number of known keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// DepotIDs returns the depots with a known key, ascending.
func (s *Store) DepotIDs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.keys))
}

// Save merges the in-memory keys with the default store on disk and
// writes it back. When a custom file is in use nothing is written: the
// custom file is never modified and the default store stays untouched.
func (s *Store) Save() error {
	if s.customPath != "" {
		return nil
	}

	onDisk, err := s.readDefault()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Overwriting unreadable default depot key store")
		onDisk = nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Keys only on disk are carried over; s.keys itself is never touched.
	merged := maps.Clone(onDisk)
	if merged == nil {
		merged = make(map[uint32][]byte, len(s.keys))
	}
	changed := false
	for id, key := range s.keys {
		if cur, ok := merged[id]; !ok || !slices.Equal(cur, key) {
			changed = true
		}
		merged[id] = key
	}
	if !changed && s.defaultFile.Exists() {
		return nil
	}

	out := make(map[string]string, len(merged))
	for id, key := range merged {
		out[strconv.FormatUint(uint64(id), 10)] = hex.EncodeToString(key)
	}
	if err := s.defaultFile.WriteJSON(out); err != nil {
		return fmt.Errorf("failed to save depot keys: %w", err)
	}
	s.logger.Debug().Int("keys", len(out)).Str("path", s.defaultFile.Path()).Msg("Saved depot keys")
	return nil
}
