package testsupport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUploadRefused is returned by MemoryStorage for names listed in FailNames.
var ErrUploadRefused = errors.New("upload refused")

// MemoryStorage is an in-memory object store used in place of S3.
type MemoryStorage struct {
	mu        sync.Mutex
	Objects   map[string][]byte
	FailNames map[string]bool // suggested names that fail with ErrUploadRefused
	seq       int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{Objects: map[string][]byte{}, FailNames: map[string]bool{}}
}

// Store keeps a copy of data and returns a fake public URL.
func (m *MemoryStorage) Store(_ context.Context, data []byte, suggestedName, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNames[suggestedName] {
		return "", ErrUploadRefused
	}
	m.seq++
	key := fmt.Sprintf("%03d_%s", m.seq, strings.TrimSpace(suggestedName))
	m.Objects[key] = append([]byte(nil), data...)
	return "https://files.test/" + key, nil
}

// Count returns the number of stored objects.
func (m *MemoryStorage) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Objects)
}
