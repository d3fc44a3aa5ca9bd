package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// VideoAttachment is a handle to a recording. The content is opened lazily
// so large files are streamed rather than held in memory.
type VideoAttachment struct {
	Name     string
	Size     int64
	MimeType string

	open func() (io.ReadCloser, error)
}

// NewAttachment builds an attachment backed by open.
func NewAttachment(name, mimeType string, size int64, open func() (io.ReadCloser, error)) *VideoAttachment {
	if mimeType == "" {
		mimeType = MimeTypeFor(name)
	}
	return &VideoAttachment{
		Name:     name,
		Size:     size,
		MimeType: mimeType,
		open:     open,
	}
}

// NewFileAttachment stats path and returns an attachment reading from it.
func NewFileAttachment(path string) (*VideoAttachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat video %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("video %s is a directory", path)
	}

	return NewAttachment(filepath.Base(path), "", info.Size(), func() (io.ReadCloser, error) {
		return os.Open(path) //nolint:gosec // operator-supplied path
	}), nil
}

// NewBytesAttachment wraps in-memory content.
func NewBytesAttachment(name, mimeType string, data []byte) *VideoAttachment {
	return NewAttachment(name, mimeType, int64(len(data)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// Open returns a fresh reader over the recording.
func (v *VideoAttachment) Open() (io.ReadCloser, error) {
	if v == nil || v.open == nil {
		return nil, fmt.Errorf("video attachment has no content")
	}
	return v.open()
}

// Extension returns the lower-case file extension without the dot.
func (v *VideoAttachment) Extension() string {
	if v == nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(v.Name)), ".")
}

type videoJSON struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// MarshalJSON exposes only the descriptive metadata.
func (v *VideoAttachment) MarshalJSON() ([]byte, error) {
	return json.Marshal(videoJSON{Name: v.Name, Size: v.Size, MimeType: v.MimeType})
}

var videoMimeTypes = map[string]string{
	"mp4": "video/mp4",
	"avi": "video/x-msvideo",
	"mov": "video/quicktime",
	"mkv": "video/x-matroska",
}

// MimeTypeFor guesses a mime type from a file name.
func MimeTypeFor(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if t, ok := videoMimeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
