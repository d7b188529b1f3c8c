package model

import (
	"bytes"
	"io"
	"os"
)

// MediaSource opens the bytes of a pending file. Sources may be opened more than once.
type MediaSource interface {
	Open() (io.ReadCloser, error)
}

type fileSource string

func (f fileSource) Open() (io.ReadCloser, error) { return os.Open(string(f)) }

// FileSource reads a pending file from local disk.
func FileSource(path string) MediaSource { return fileSource(path) }

type bytesSource []byte

func (b bytesSource) Open() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(b)), nil }

// BytesSource serves a pending file held in memory, e.g. the output of a converter.
func BytesSource(b []byte) MediaSource { return bytesSource(b) }

// PendingFile is a file queued in the preflight pipeline.
type PendingFile struct {
	ID     string            `json:"id"`
	Name   string            `json:"name"`
	Type   string            `json:"type"`
	Size   int64             `json:"size"`
	Meta   map[string]string `json:"meta,omitempty"`
	Source MediaSource       `json:"-"`
}

// ConvertedFile is what a format converter hands back.
type ConvertedFile struct {
	Name string
	Type string
	Data []byte
}

// SavedMedia is the normalized descriptor of a stored asset.
type SavedMedia struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// TransferResult reports the storage outcome of one file.
type TransferResult struct {
	FileID string
	Saved  *SavedMedia
	Err    error
}

// Rejection records why preflight dropped a file.
type Rejection struct {
	FileID  string `json:"file_id"`
	Name    string `json:"name"`
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// PreflightResult is returned exactly once per batch.
type PreflightResult struct {
	Saved    []SavedMedia `json:"saved"`
	Rejected []Rejection  `json:"rejected,omitempty"`
}
