// mock_storage.go - In-memory blob store and clock for testing
package testutil

import (
	"errors"
	"sync"
	"time"

	"github.com/tus-upload-server/backend/internal/storage"
)

// MockBlobStore implements storage.BlobStore in memory.
// Setting a Fail* field makes the matching operation return that error.
type MockBlobStore struct {
	blobs map[string][]byte
	mu    sync.RWMutex

	FailRead   error
	FailWrite  error
	FailDelete error

	writes int
}

// NewMockBlobStore creates an empty mock blob store.
func NewMockBlobStore() *MockBlobStore {
	return &MockBlobStore{
		blobs: make(map[string][]byte),
	}
}

func (m *MockBlobStore) Exists(path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.blobs[path]
	return ok, nil
}

func (m *MockBlobStore) Read(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailRead != nil {
		return nil, m.FailRead
	}
	data, ok := m.blobs[path]
	if !ok {
		return nil, storage.ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

func (m *MockBlobStore) Write(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrite != nil {
		return m.FailWrite
	}
	m.blobs[path] = append([]byte{}, data...)
	m.writes++
	return nil
}

func (m *MockBlobStore) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailDelete != nil {
		return m.FailDelete
	}
	delete(m.blobs, path)
	return nil
}

// Ensure MockBlobStore implements storage.BlobStore
var _ storage.BlobStore = (*MockBlobStore)(nil)

// Test Helper Methods

// Put stores a blob directly, bypassing failure injection.
func (m *MockBlobStore) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = append([]byte{}, data...)
}

// Get returns the stored blob and whether it exists.
func (m *MockBlobStore) Get(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[path]
	return data, ok
}

// Count returns the number of stored blobs.
func (m *MockBlobStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

// Writes returns how many successful writes were made.
func (m *MockBlobStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// ErrInjected is a generic failure for injection into mocks.
var ErrInjected = errors.New("injected failure")

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
