package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileChannel appends alerts to a text log
type FileChannel struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// NewFileChannel appends to path, creating its directory on first use
func NewFileChannel(path string) *FileChannel {
	return &FileChannel{path: path, now: time.Now}
}

// Name returns the channel name
func (c *FileChannel) Name() string {
	return "file"
}

// Path returns the log file path
func (c *FileChannel) Path() string {
	return c.path
}

// Send appends one entry
func (c *FileChannel) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create alert log directory: %w", err)
	}

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open alert log: %w", err)
	}
	defer f.Close()

	entry := fmt.Sprintf("\n[%s] %s\n%s\n%s\n%s\n",
		c.now().Format(TimestampLayout), msg.Subject, separator, msg.Body, separator)
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("failed to write alert log: %w", err)
	}
	return nil
}
