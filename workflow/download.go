package workflow

import (
	"fmt"
	"os"
	"path/filepath"
)

// DownloadName is the suggested file name for a processed image.
const DownloadName = "no-background.png"

// Saver performs a client-side save of data under name.
type Saver interface {
	Save(name string, data []byte) error
}

type SaverFunc func(name string, data []byte) error

func (f SaverFunc) Save(name string, data []byte) error { return f(name, data) }

// DirSaver writes downloads into Dir, replacing any existing file.
type DirSaver struct {
	Dir string
}

func (s DirSaver) Save(name string, data []byte) error {
	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
