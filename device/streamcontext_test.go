package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamContext_RestoresOnNormalExit(t *testing.T) {
	b := NewResourceBundle(0, 0, 0, 1, 2, nil)
	defer b.Close()

	b.SetStream("origin", 0)

	func() {
		sc := NewStreamContext(b, "scoped", 0)
		defer sc.Close()
		assert.Equal(t, "scoped", b.CurrentStreamName())
	}()

	assert.Equal(t, "origin", b.CurrentStreamName())
}

func TestStreamContext_RestoresOnError(t *testing.T) {
	b := NewResourceBundle(0, 0, 0, 1, 2, nil)
	defer b.Close()

	b.SetStream("origin", 0)

	failing := func() (err error) {
		sc := NewStreamContext(b, "scoped", 0)
		defer sc.Close()
		return errors.New("lookup failed")
	}
	require.Error(t, failing())

	assert.Equal(t, "origin", b.CurrentStreamName())
}

func TestStreamContext_RestoresOnPanic(t *testing.T) {
	b := NewResourceBundle(0, 0, 0, 1, 2, nil)
	defer b.Close()

	b.SetStream("origin", 0)

	func() {
		defer func() { _ = recover() }()
		sc := NewStreamContext(b, "scoped", 0)
		defer sc.Close()
		panic("boom")
	}()

	assert.Equal(t, "origin", b.CurrentStreamName())
}

func TestStreamContext_CloseIdempotent(t *testing.T) {
	b := NewResourceBundle(0, 0, 0, 1, 2, nil)
	defer b.Close()

	b.SetStream("first", 0)

	sc := NewStreamContext(b, "scoped", 0)
	require.NoError(t, sc.Close())

	// A second Close must not re-restore and clobber a newer switch.
	b.SetStream("second", 0)
	require.NoError(t, sc.Close())
	assert.Equal(t, "second", b.CurrentStreamName())
}

func TestStreamContext_Nested(t *testing.T) {
	b := NewResourceBundle(0, 0, 0, 1, 2, nil)
	defer b.Close()

	b.SetStream("origin", 0)

	outer := NewStreamContext(b, "outer", 0)
	inner := NewStreamContext(b, "inner", 0)
	assert.Equal(t, "inner", b.CurrentStreamName())

	require.NoError(t, inner.Close())
	assert.Equal(t, "outer", b.CurrentStreamName())
	require.NoError(t, outer.Close())
	assert.Equal(t, "origin", b.CurrentStreamName())
}
