package ledger

import (
	"fmt"
	"os"
	"path/filepath"
)

// Storage defines the interface for the uploaded document archive
type Storage interface {
	// Save writes a file and returns its name within the archive
	Save(filename string, data []byte) (string, error)

	// Get reads an archived file
	Get(name string) ([]byte, error)

	// Path returns the filesystem path of an archived file
	Path(name string) string

	// Delete removes an archived file
	Delete(name string) error
}

// LocalStorage archives documents in a local directory
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates the archive directory if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// Save writes data under filename. Directory components of filename are dropped.
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	name := filepath.Base(filename)
	if err := os.WriteFile(l.Path(name), data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return name, nil
}

// Get reads an archived file
func (l *LocalStorage) Get(name string) ([]byte, error) {
	data, err := os.ReadFile(l.Path(name))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Path returns the location of name inside the archive
func (l *LocalStorage) Path(name string) string {
	return filepath.Join(l.basePath, filepath.Base(name))
}

// Delete removes an archived file
func (l *LocalStorage) Delete(name string) error {
	if err := os.Remove(l.Path(name)); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
