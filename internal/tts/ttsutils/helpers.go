// Package ttsutils provides file and path utility functions for the gateway.
//
// It covers directory creation, filename guarding for client-supplied names,
// content-type lookup for stored audio, and human-readable formatting for logs.
package ttsutils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultDirPermissions  = 0o750
	dot                    = "."
	invalidCharReplacement = "_"
	maxFilenameLength      = 255
)

// Data size constants.
const (
	byteUnit = 1
	kilobyte = byteUnit * 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
	formatGB        = "%.1f GB"
	formatMB        = "%.1f MB"
	formatKB        = "%.1f KB"
	formatBytes     = "%d B"
)

// Audio extensions and content types.
const (
	ExtMP3  = ".mp3"
	ExtWAV  = ".wav"
	ExtFLAC = ".flac"
	ExtOGG  = ".ogg"

	contentTypeMP3    = "audio/mpeg"
	contentTypeWAV    = "audio/wav"
	contentTypeFLAC   = "audio/flac"
	contentTypeOGG    = "audio/ogg"
	contentTypeBinary = "application/octet-stream"
)

const (
	errFmtFailedToCreateDir = "failed to create directory %s: %w"
	errFmtUnsafeFilename    = "%w: %q"
)

// ErrUnsafeFilename is returned when a client-supplied name is not a plain
// file name inside the target directory.
var ErrUnsafeFilename = errors.New("filename must be a plain base name")

// ErrNotDirectory is returned when a path that must be a directory is a file.
var ErrNotDirectory = errors.New("path exists and is not a directory")

// EnsureDir creates path and any missing parents. An existing directory is
// left alone; an existing non-directory is an error wrapping ErrNotDirectory.
func EnsureDir(path string) error {
	info, err := os.Stat(path)

	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return fmt.Errorf(errFmtFailedToCreateDir, path, ErrNotDirectory)
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf(errFmtFailedToCreateDir, path, err)
	}

	err = os.MkdirAll(path, defaultDirPermissions)
	if err != nil {
		return fmt.Errorf(errFmtFailedToCreateDir, path, err)
	}

	return nil
}

// ValidateBaseName rejects empty names, separators, and dot segments so that
// joining the result onto a directory cannot escape it.
func ValidateBaseName(name string) error {
	switch {
	case name == "", name == dot, name == "..":
		return fmt.Errorf(errFmtUnsafeFilename, ErrUnsafeFilename, name)
	case len(name) > maxFilenameLength:
		return fmt.Errorf(errFmtUnsafeFilename, ErrUnsafeFilename, name)
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return fmt.Errorf(errFmtUnsafeFilename, ErrUnsafeFilename, name)
	case filepath.Base(name) != name:
		return fmt.Errorf(errFmtUnsafeFilename, ErrUnsafeFilename, name)
	}

	return nil
}

// Ext returns the lower-cased extension including the leading dot.
func Ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// AudioContentType maps an audio filename to its MIME type.
func AudioContentType(filename string) string {
	switch Ext(filename) {
	case ExtMP3:
		return contentTypeMP3
	case ExtWAV:
		return contentTypeWAV
	case ExtFLAC:
		return contentTypeFLAC
	case ExtOGG:
		return contentTypeOGG
	default:
		return contentTypeBinary
	}
}

// FormatDuration formats a duration in a human-readable string (e.g., "1h 15m", "5m
// 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5
// MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf(formatGB, float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf(formatMB, float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf(formatKB, float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf(formatBytes, bytes)
	}
}

// SanitizeFilename replaces characters that are invalid in most filesystems.
// The download handler uses it for Content-Disposition; lookups never do.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
