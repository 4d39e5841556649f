// Package artifacts manages generated audio files in the output directory.
//
// The directory is the index: listing scans it, and every lookup goes through
// a base-name guard so client-supplied names cannot leave it.
package artifacts

import (
	"crypto/md5" //nolint:gosec // content fingerprint for filenames, not security
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/tts/ttsutils"
)

// Listing defaults.
const (
	DefaultLimit  = 50
	DefaultOffset = 0
)

const (
	filenamePrefix  = "tts_"
	timestampLayout = "20060102_150405"
	hashPrefixLen   = 8
	filePermissions = 0o644
)

// Item describes one stored artifact in a listing.
type Item struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"created"`
	URL      string    `json:"url"`
}

// Store reads and writes artifacts under a single directory.
type Store struct {
	dir       string
	urlPrefix string
	logger    *logger.Logger
}

// NewStore creates a Store rooted at dir. urlPrefix is the public mount the
// directory is served under.
func NewStore(dir, urlPrefix string, log *logger.Logger) *Store {
	return &Store{
		dir:       dir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		logger:    log,
	}
}

// Dir returns the output directory.
func (s *Store) Dir() string {
	return s.dir
}

// Timestamp formats t the way artifact filenames embed it.
func Timestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// DeriveFilename returns tts_<timestamp>_<md5(prompt)[:8]>.mp3. Identical
// inputs always produce the same name.
func DeriveFilename(prompt string, t time.Time) string {
	sum := md5.Sum([]byte(prompt)) //nolint:gosec // see import
	hash := hex.EncodeToString(sum[:])[:hashPrefixLen]

	return filenamePrefix + Timestamp(t) + "_" + hash + ttsutils.ExtMP3
}

// URL returns the public URL for filename.
func (s *Store) URL(filename string) string {
	return s.urlPrefix + "/" + filename
}

// Path resolves a validated filename inside the store.
func (s *Store) Path(filename string) (string, error) {
	err := ttsutils.ValidateBaseName(filename)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrValidation, err)
	}

	return filepath.Join(s.dir, filename), nil
}

// Write stores data under filename. On any failure the partial file is
// removed and the error wraps core.ErrWrite.
func (s *Store) Write(filename string, data []byte) (err error) {
	target, err := s.Path(filename)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrWrite, filename, err)
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil && err == nil {
			err = fmt.Errorf("%w: %s: %w", core.ErrWrite, filename, closeErr)
		}

		if err != nil {
			removeErr := os.Remove(target)
			if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				s.logger.Warn("Failed to remove partial file %s: %v", target, removeErr)
			}
		}
	}()

	_, err = file.Write(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrWrite, filename, err)
	}

	return nil
}

// Exists reports whether filename is a regular file in the store.
func (s *Store) Exists(filename string) bool {
	target, err := s.Path(filename)
	if err != nil {
		return false
	}

	info, err := os.Stat(target)

	return err == nil && info.Mode().IsRegular()
}

// Open opens filename for streaming. The caller closes the file.
func (s *Store) Open(filename string) (*os.File, os.FileInfo, error) {
	target, err := s.Path(filename)
	if err != nil {
		return nil, nil, err
	}

	file, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: audio file %s", core.ErrNotFound, filename)
		}

		return nil, nil, fmt.Errorf("failed to open %s: %w", filename, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, nil, fmt.Errorf("failed to stat %s: %w", filename, err)
	}

	if !info.Mode().IsRegular() {
		_ = file.Close()

		return nil, nil, fmt.Errorf("%w: audio file %s", core.ErrNotFound, filename)
	}

	return file, info, nil
}

// Delete removes filename from the store.
func (s *Store) Delete(filename string) error {
	target, err := s.Path(filename)
	if err != nil {
		return err
	}

	err = os.Remove(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: audio file %s", core.ErrNotFound, filename)
		}

		return fmt.Errorf("failed to delete %s: %w", filename, err)
	}

	return nil
}

// List returns one page of .mp3 and .wav artifacts, newest first, plus the
// total number of artifacts.
func (s *Store) List(limit, offset int) ([]Item, int, error) {
	if limit < 0 || offset < 0 {
		return nil, 0, fmt.Errorf("%w: limit and offset must be non-negative", core.ErrValidation)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read output directory: %w", err)
	}

	items := make([]Item, 0, len(entries))

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isListed(entry.Name()) {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			// Removed between ReadDir and Info.
			continue
		}

		items = append(items, Item{
			Filename: entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
			URL:      s.URL(entry.Name()),
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Modified.Equal(items[j].Modified) {
			return items[i].Filename < items[j].Filename
		}

		return items[i].Modified.After(items[j].Modified)
	})

	total := len(items)
	if offset >= total {
		return []Item{}, total, nil
	}

	end := total
	if limit < total-offset {
		end = offset + limit
	}

	return items[offset:end], total, nil
}

func isListed(name string) bool {
	switch ttsutils.Ext(name) {
	case ttsutils.ExtMP3, ttsutils.ExtWAV:
		return true
	default:
		return false
	}
}
