package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// ErrNotZip is returned for uploads whose name does not end in .zip.
var ErrNotZip = errors.New("please upload a ZIP file")

// Error is fatal to an ingestion: the bytes are not a readable archive.
type Error struct {
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("invalid or corrupted archive %s: %v", e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Source identifies the uploaded file for logs and diagnostics.
type Source struct {
	Name string
	Size int64
}

type Entry struct {
	Name  string
	IsDir bool
	file  *zip.File
}

// Decode reads the entry and returns its contents as text.
func (e Entry) Decode() (string, error) {
	if e.file == nil {
		return "", fmt.Errorf("entry %s: no content", e.Name)
	}
	rc, err := e.file.Open()
	if err != nil {
		return "", fmt.Errorf("open entry %s: %w", e.Name, err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read entry %s: %w", e.Name, err)
	}
	// a leading UTF-8 BOM would otherwise fail JSON decoding
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	return string(b), nil
}

type Archive struct {
	Source  Source
	entries []Entry
}

// Open reads a whole-file zip archive held in memory.
func Open(src Source, data []byte) (*Archive, error) {
	if src.Size == 0 {
		src.Size = int64(len(data))
	}
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &Error{Name: src.Name, Err: err}
	}

	a := &Archive{Source: src, entries: make([]Entry, 0, len(r.File))}
	for _, f := range r.File {
		a.entries = append(a.entries, Entry{
			Name:  f.Name,
			IsDir: f.FileInfo().IsDir(),
			file:  f,
		})
	}
	return a, nil
}

// CheckName rejects archive names without a .zip suffix.
func CheckName(name string) error {
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		return &Error{Name: name, Err: ErrNotZip}
	}
	return nil
}

// OpenFile reads path from disk and opens it. Names without a .zip suffix are
// rejected before any bytes are read.
func OpenFile(path string) (*Archive, error) {
	name := filepath.Base(path)
	if err := CheckName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Name: name, Err: err}
	}
	return Open(Source{Name: name, Size: int64(len(data))}, data)
}

// Entries returns the entries in archive-listing order.
func (a *Archive) Entries() []Entry {
	return a.entries
}
