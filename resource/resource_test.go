package resource

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMinds-Digital/dso-signtusk-sub012/common"
)

func TestCleanupRunsOnce(t *testing.T) {
	m := NewManager(nil)
	var calls atomic.Int32
	id := m.RegisterCryptoContext("ctx", func() error {
		calls.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Cleanup(id))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	cleaned, err := m.IsCleaned(id)
	require.NoError(t, err)
	assert.True(t, cleaned)
}

func TestUnknownHandle(t *testing.T) {
	m := NewManager(nil)
	var resErr *common.ResourceError

	err := m.Cleanup(42)
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, uint64(42), resErr.ID)

	_, err = m.IsCleaned(42)
	assert.ErrorAs(t, err, &resErr)
	assert.ErrorAs(t, m.Unregister(42), &resErr)
}

func TestSecureMemoryZeroed(t *testing.T) {
	m := NewManager(nil)
	key := []byte("very secret key material")
	id := m.RegisterSecureMemory(key)
	require.NoError(t, m.Cleanup(id))
	for _, b := range key {
		require.Zero(t, b)
	}
}

func TestTempFiles(t *testing.T) {
	m := NewManager(nil)
	path, id, err := m.WriteTempFile("signtusk-*.pdf", []byte("%PDF-1.7"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(data))

	require.NoError(t, m.Cleanup(id))
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	// Removing a file that is already gone is fine.
	gone := m.RegisterTempFile(filepath.Join(t.TempDir(), "missing"))
	assert.NoError(t, m.Cleanup(gone))
}

func TestCleanupAllContinuesAfterFailure(t *testing.T) {
	m := NewManager(nil)
	boom := errors.New("boom")
	var ran []string
	var mu sync.Mutex
	record := func(name string, err error) func() error {
		return func() error {
			mu.Lock()
			ran = append(ran, name)
			mu.Unlock()
			return err
		}
	}
	m.RegisterCustom("a", record("a", nil))
	failing := m.RegisterCustom("b", record("b", boom))
	m.RegisterCustom("c", record("c", nil))

	err := m.CleanupAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var resErr *common.ResourceError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, uint64(failing), resErr.ID)

	assert.ElementsMatch(t, []string{"a", "b", "c"}, ran)
	assert.Equal(t, 0, m.Outstanding())
	assert.Equal(t, 3, m.Count())

	// Nothing is left to clean.
	assert.NoError(t, m.CleanupAll())
}

func TestGuard(t *testing.T) {
	m := NewManager(nil)
	buf := []byte{1, 2, 3}

	g := NewGuard(m, m.RegisterSecureMemory(buf))
	require.NoError(t, g.Close())
	assert.Equal(t, []byte{0, 0, 0}, buf)
	require.NoError(t, g.Close())

	kept := []byte{4, 5}
	g = NewGuard(m, m.RegisterSecureMemory(kept))
	g.Disarm()
	require.NoError(t, g.Close())
	assert.Equal(t, []byte{4, 5}, kept)
	cleaned, _ := m.IsCleaned(g.ID())
	assert.False(t, cleaned)
}

func TestScope(t *testing.T) {
	var closed int
	func() {
		s := NewScope(nil)
		defer func() { require.NoError(t, s.Close()) }()
		for i := 0; i < 3; i++ {
			s.RegisterCustom("step", func() error {
				closed++
				return nil
			})
		}
		assert.Equal(t, 3, s.Outstanding())
	}()
	assert.Equal(t, 3, closed)
}

func TestUnregister(t *testing.T) {
	m := NewManager(nil)
	called := false
	id := m.RegisterCustom("x", func() error {
		called = true
		return nil
	})
	require.NoError(t, m.Unregister(id))
	assert.Equal(t, 0, m.Count())
	assert.NoError(t, m.CleanupAll())
	assert.False(t, called)
}
