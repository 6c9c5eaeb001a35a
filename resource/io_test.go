package resource

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitedWriter(t *testing.T) {
	ctrl := NewController(Config{TransferLimitBytesPerSec: 1 << 20})

	var out bytes.Buffer
	w := NewRateLimitedWriter(context.Background(), ctrl, &out)

	n, err := w.Write([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "payload", out.String())
}

func TestRateLimitedWriter_CanceledContext(t *testing.T) {
	ctrl := NewController(Config{TransferLimitBytesPerSec: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewRateLimitedWriter(ctx, ctrl, &bytes.Buffer{})
	_, err := w.Write([]byte("too much for a canceled context"))
	assert.Error(t, err)
}

func TestRateLimitedReader(t *testing.T) {
	ctrl := NewController(Config{TransferLimitBytesPerSec: 1 << 20})

	r := NewRateLimitedReader(context.Background(), ctrl, strings.NewReader("payload"))

	buf := make([]byte, 4)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "payl", string(buf))
}
