package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/togglemark/backend"
)

func TestCodecSmallBodyStaysIdentity(t *testing.T) {
	c := newTestCodec(t)
	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	data, err := c.Encode("k", map[string]int{"a": 1}, 1, now)
	require.NoError(t, err)

	var out map[string]int
	header, err := c.Decode(data, &out)
	require.NoError(t, err)
	require.Equal(t, backend.EncodingIdentity, header.Encoding)
	require.Equal(t, "k", header.Key)
	require.True(t, header.WrittenAt.Equal(now))
	require.Equal(t, map[string]int{"a": 1}, out)
}

func TestCodecRejectsLengthMismatch(t *testing.T) {
	c := newTestCodec(t)

	data, err := c.Encode("k", []int{1, 2, 3}, 3, time.Now())
	require.NoError(t, err)

	var out []int
	_, err = c.Decode(data[:len(data)-1], &out)
	require.ErrorIs(t, err, ErrCorrupt)
}
