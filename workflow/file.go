package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// File is a raw handle yielded by a file picker. Size and MediaType are the
// declared values; content is only read through Open.
type File struct {
	Name      string
	MediaType string
	Size      int64
	Open      func() (io.ReadCloser, error)
}

// BytesFile wraps in-memory content as a File.
func BytesFile(name, mediaType string, data []byte) *File {
	return &File{
		Name:      name,
		MediaType: mediaType,
		Size:      int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// SelectedFile is a File that passed validation.
type SelectedFile struct {
	File
}

// ReadAll reads the whole content, refusing anything larger than the
// declared size allows.
func (f *SelectedFile) ReadAll() ([]byte, error) {
	if f.Open == nil {
		return nil, errors.New("file has no content")
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer func() {
		_ = rc.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(rc, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, fmt.Errorf("read %s: content exceeds %d bytes", f.Name, MaxFileSize)
	}
	return data, nil
}

// FileInfo is the serializable description of a selected file.
type FileInfo struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
}

func (f *SelectedFile) Info() *FileInfo {
	return &FileInfo{Name: f.Name, MediaType: f.MediaType, Size: f.Size}
}
