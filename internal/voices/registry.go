// Package voices persists cloned voice records to a single JSON document.
package voices

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"
)

const (
	filePermissions = 0o600
	jsonIndent      = "  "
	tempPattern     = ".voices_db-*.json"
)

// Record is a cloned voice. Records are created by clone, never updated,
// and destroyed by delete.
type Record struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Transcript  string    `json:"transcript"`
	AudioPath   string    `json:"audio_path"`
	Duration    float64   `json:"duration"`
	CreatedAt   time.Time `json:"created_at"`
}

// Registry is an id-keyed map of voice records mirrored to a JSON document
// after every mutation.
type Registry struct {
	mu      sync.RWMutex
	path    string
	records map[string]Record
	logger  *logger.Logger
}

// NewRegistry creates an empty registry backed by the document at path.
// Call Load to read existing records.
func NewRegistry(path string, log *logger.Logger) *Registry {
	return &Registry{
		mu:      sync.RWMutex{},
		path:    path,
		records: make(map[string]Record),
		logger:  log,
	}
}

// Path returns the location of the backing document.
func (r *Registry) Path() string {
	return r.path
}

// Load reads the document if it exists. A missing, unreadable, or corrupt
// document leaves the registry empty; Load never fails the caller.
func (r *Registry) Load() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]Record)

	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Error("Failed to read voice registry %s: %v", r.path, err)
		}

		return
	}

	loaded := make(map[string]Record)

	err = json.Unmarshal(data, &loaded)
	if err != nil {
		r.logger.Error("Failed to parse voice registry %s, starting empty: %v", r.path, err)

		return
	}

	r.records = loaded
	r.logger.Info("Loaded %d voices from %s", len(loaded), r.path)
}

// Save writes the whole registry to disk.
func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.saveLocked()
}

// Put inserts or replaces a record and persists the registry. A failed save is
// returned but the in-memory insert stands.
func (r *Registry) Put(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[rec.ID] = rec

	return r.saveLocked()
}

// PutIfAbsent inserts rec only when its id is free. It reports whether the
// record was inserted; the error is the result of the save.
func (r *Registry) PutIfAbsent(rec Record) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; exists {
		return false, nil
	}

	r.records[rec.ID] = rec

	return true, r.saveLocked()
}

// Get returns the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]

	return rec, ok
}

// Delete removes the record for id and persists the registry. When id is
// unknown nothing is mutated or written and the returned record is zero.
func (r *Registry) Delete(id string) (Record, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, false, nil
	}

	delete(r.records, id)

	return rec, true, r.saveLocked()
}

// List returns every record in no particular order.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}

	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}

func (r *Registry) saveLocked() error {
	err := r.writeDocument()
	if err != nil {
		r.logger.Error("Failed to save voice registry %s: %v", r.path, err)

		return err
	}

	return nil
}

// writeDocument replaces the document through a temp file in the same
// directory so readers never observe a half-written file.
func (r *Registry) writeDocument() error {
	data, err := json.MarshalIndent(r.records, "", jsonIndent)
	if err != nil {
		return fmt.Errorf("failed to encode voice registry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp registry file: %w", err)
	}

	tmpName := tmp.Name()

	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	_, err = tmp.Write(data)
	if err != nil {
		_ = tmp.Close()

		return fmt.Errorf("failed to write temp registry file: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("failed to close temp registry file: %w", err)
	}

	err = os.Chmod(tmpName, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to set registry permissions: %w", err)
	}

	err = os.Rename(tmpName, r.path)
	if err != nil {
		return fmt.Errorf("failed to replace voice registry: %w", err)
	}

	return nil
}
