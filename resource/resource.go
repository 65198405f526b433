// Package resource tracks transient resources (temporary files, crypto
// contexts, key material) so that each is released exactly once.
package resource

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
)

// Kind is the type of a registered resource.
type Kind int

const (
	TempFile Kind = iota + 1
	CryptoContext
	SecureMemory
	Custom
)

func (k Kind) String() string {
	switch k {
	case TempFile:
		return "temp file"
	case CryptoContext:
		return "crypto context"
	case SecureMemory:
		return "secure memory"
	case Custom:
		return "custom"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ID identifies a handle within its manager.
type ID uint64

// Handle describes a registered resource.
type Handle struct {
	ID      ID
	Kind    Kind
	Name    string
	Cleaned bool

	release func() error
}

// Manager is a registry of resources. It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	next    atomic.Uint64
	handles map[ID]*Handle
	logger  *slog.Logger
}

// NewManager returns an empty Manager. A nil logger discards.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{handles: make(map[ID]*Handle), logger: logger}
}

func (m *Manager) register(kind Kind, name string, release func() error) ID {
	id := ID(m.next.Add(1))
	m.mu.Lock()
	m.handles[id] = &Handle{ID: id, Kind: kind, Name: name, release: release}
	m.mu.Unlock()
	m.logger.Debug("resource registered", slog.Uint64("id", uint64(id)), slog.String("kind", kind.String()))
	return id
}

// RegisterTempFile registers a file that is removed on cleanup. A file that
// is already gone is not an error.
func (m *Manager) RegisterTempFile(path string) ID {
	return m.register(TempFile, path, func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}

// RegisterCryptoContext registers a context released by destroy.
func (m *Manager) RegisterCryptoContext(name string, destroy func() error) ID {
	if destroy == nil {
		destroy = func() error { return nil }
	}
	return m.register(CryptoContext, name, destroy)
}

// RegisterSecureMemory registers a buffer that is zeroed on cleanup.
func (m *Manager) RegisterSecureMemory(buf []byte) ID {
	return m.register(SecureMemory, fmt.Sprintf("%d bytes", len(buf)), func() error {
		clear(buf)
		return nil
	})
}

// RegisterCustom registers an arbitrary cleanup function.
func (m *Manager) RegisterCustom(name string, fn func() error) ID {
	if fn == nil {
		fn = func() error { return nil }
	}
	return m.register(Custom, name, fn)
}

// CreateTempFile creates and registers an empty temporary file. The caller
// closes the returned file; cleanup removes it.
func (m *Manager) CreateTempFile(pattern string) (*os.File, ID, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return nil, 0, &common.ResourceError{Kind: TempFile.String(), Err: err}
	}
	return f, m.RegisterTempFile(f.Name()), nil
}

// WriteTempFile creates a registered temporary file holding data and
// returns its path.
func (m *Manager) WriteTempFile(pattern string, data []byte) (string, ID, error) {
	f, id, err := m.CreateTempFile(pattern)
	if err != nil {
		return "", 0, err
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return "", 0, errors.Join(&common.ResourceError{ID: uint64(id), Kind: TempFile.String(), Err: err}, m.Cleanup(id))
	}
	return f.Name(), id, nil
}

// Cleanup releases one resource. Cleaning a handle twice is a no-op; an
// unknown id is a *common.ResourceError.
func (m *Manager) Cleanup(id ID) error {
	m.mu.Lock()
	h, ok := m.handles[id]
	if !ok {
		m.mu.Unlock()
		return &common.ResourceError{ID: uint64(id), Err: errors.New("unknown resource")}
	}
	if h.Cleaned {
		m.mu.Unlock()
		return nil
	}
	// Marked before release so that a concurrent Cleanup does not run it again.
	h.Cleaned = true
	release := h.release
	m.mu.Unlock()

	if err := release(); err != nil {
		m.logger.Warn("resource cleanup failed", slog.Uint64("id", uint64(id)), slog.String("kind", h.Kind.String()), slog.Any("error", err))
		return &common.ResourceError{ID: uint64(id), Kind: h.Kind.String(), Err: err}
	}
	m.logger.Debug("resource cleaned", slog.Uint64("id", uint64(id)), slog.String("kind", h.Kind.String()))
	return nil
}

// CleanupAll releases every outstanding resource. It continues after
// failures and returns them joined.
func (m *Manager) CleanupAll() error {
	m.mu.Lock()
	ids := make([]ID, 0, len(m.handles))
	for id, h := range m.handles {
		if !h.Cleaned {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Cleanup(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unregister forgets a handle without releasing it.
func (m *Manager) Unregister(id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handles[id]; !ok {
		return &common.ResourceError{ID: uint64(id), Err: errors.New("unknown resource")}
	}
	delete(m.handles, id)
	return nil
}

// Count is the number of registered handles, cleaned or not.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Outstanding is the number of handles not yet cleaned.
func (m *Manager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.handles {
		if !h.Cleaned {
			n++
		}
	}
	return n
}

// IsCleaned reports whether the handle was released.
func (m *Manager) IsCleaned(id ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	if !ok {
		return false, &common.ResourceError{ID: uint64(id), Err: errors.New("unknown resource")}
	}
	return h.Cleaned, nil
}

// Handle returns a copy of the handle description.
func (m *Manager) Handle(id ID) (Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	if !ok {
		return Handle{}, false
	}
	c := *h
	c.release = nil
	return c, true
}
