package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

type testItem struct {
	Name string `msgpack:"name"`
	N    int    `msgpack:"n"`
}

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder[testItem](&buf)
	require.NoError(t, enc.WriteBatch([]testItem{{Name: "a", N: 1}, {Name: "b", N: 2}}))
	require.NoError(t, enc.WriteBatch([]testItem{{Name: "c", N: 3}}))
	require.NoError(t, enc.WriteEnd())

	dec := NewDecoder[testItem](&buf)

	items, done, err := dec.Next()
	require.NoError(t, err)
	require.False(t, done)
	require.Equal(t, []testItem{{Name: "a", N: 1}, {Name: "b", N: 2}}, items)

	items, done, err = dec.Next()
	require.NoError(t, err)
	require.False(t, done)
	require.Equal(t, []testItem{{Name: "c", N: 3}}, items)

	items, done, err = dec.Next()
	require.NoError(t, err)
	require.True(t, done)
	require.Nil(t, items)
}

func TestStreamErrFrame(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder[testItem](&buf)
	require.NoError(t, enc.WriteErr("path not found"))

	dec := NewDecoder[testItem](&buf)
	_, _, err := dec.Next()
	require.Error(t, err)

	var appErr *ApplicationError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "path not found", appErr.Message)
}

func TestStreamTruncatedFails(t *testing.T) {
	dec := NewDecoder[testItem](bytes.NewReader(nil))
	_, _, err := dec.Next()
	require.Error(t, err)
}
