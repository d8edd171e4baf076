package transfer

import (
	"fmt"
	"os"
	"sync"
)

type fileHandle struct {
	mu   sync.Mutex
	file *os.File
}

// FileWriter keeps one open handle per .part file so chunk writes don't
// reopen the file.
type FileWriter struct {
	mu      sync.RWMutex
	handles map[string]*fileHandle
}

func NewFileWriter() *FileWriter {
	return &FileWriter{
		handles: make(map[string]*fileHandle),
	}
}

// Open prepares path for writing from offset. Anything past offset is cut
// off so a resumed file never keeps bytes the server did not confirm.
func (fw *FileWriter) Open(path string, offset int64) error {
	h, err := fw.getOrCreateFile(path)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.file.Truncate(offset); err != nil {
		return fmt.Errorf("could not truncate %s to %d: %w", path, offset, err)
	}
	return nil
}

// WriteAt finds the handle and performs a thread-safe write
func (fw *FileWriter) WriteAt(path string, data []byte, offset int64) error {
	h, err := fw.getOrCreateFile(path)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err = h.file.WriteAt(data, offset)
	return err
}

func (fw *FileWriter) getOrCreateFile(path string) (*fileHandle, error) {
	fw.mu.RLock()
	h, ok := fw.handles[path]
	fw.mu.RUnlock()
	if ok {
		return h, nil
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	h, ok = fw.handles[path]
	if ok {
		return h, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open part file: %w", err)
	}

	h = &fileHandle{
		file: f,
	}
	fw.handles[path] = h

	return h, nil
}

// Close syncs and closes path. Closing an unknown path is a no-op.
func (fw *FileWriter) Close(path string) error {
	fw.mu.Lock()
	h, ok := fw.handles[path]
	if ok {
		delete(fw.handles, path)
	}
	fw.mu.Unlock()
	if !ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	_ = h.file.Sync()
	return h.file.Close()
}

// Finalize closes part and moves it to its final name.
func (fw *FileWriter) Finalize(part, final string) error {
	if err := fw.Close(part); err != nil {
		return fmt.Errorf("close %s: %w", part, err)
	}
	if err := os.Rename(part, final); err != nil {
		return fmt.Errorf("rename %s: %w", part, err)
	}
	return nil
}

// Discard closes path and deletes it.
func (fw *FileWriter) Discard(path string) error {
	_ = fw.Close(path)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CloseAll syncs and closes every open handle.
func (fw *FileWriter) CloseAll() {
	fw.mu.RLock()
	paths := make([]string, 0, len(fw.handles))
	for path := range fw.handles {
		paths = append(paths, path)
	}
	fw.mu.RUnlock()

	for _, path := range paths {
		_ = fw.Close(path)
	}
}
