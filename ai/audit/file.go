package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// FileConsumer appends events as JSON lines to a single file.
type FileConsumer struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileConsumer opens (or creates) the audit log file for appending.
func NewFileConsumer(path string) (*FileConsumer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create audit log directory")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, errors.Wrap(err, "open audit log")
	}
	return &FileConsumer{file: file}, nil
}

func (c *FileConsumer) Consume(_ context.Context, event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal audit event")
	}
	line = append(line, '\n')

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.file.Write(line); err != nil {
		return errors.Wrap(err, "write audit event")
	}
	return nil
}

func (c *FileConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}
