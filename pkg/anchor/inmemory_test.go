//go:build unit || !integration

package anchor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutIsIdempotent(t *testing.T) {
	writer := NewInMemoryWriter()
	ctx := context.Background()

	first, err := writer.Put(ctx, []byte("receipt body"))
	require.NoError(t, err)

	second, err := writer.Put(ctx, []byte("receipt body"))
	require.NoError(t, err)
	require.Equal(t, first, second, "identical bytes must yield identical addresses")

	other, err := writer.Put(ctx, []byte("different body"))
	require.NoError(t, err)
	require.NotEqual(t, first, other)
}

func TestGetRoundTrip(t *testing.T) {
	writer := NewInMemoryWriter()
	ctx := context.Background()

	address, err := writer.Put(ctx, []byte("receipt body"))
	require.NoError(t, err)

	data, err := writer.Get(ctx, address)
	require.NoError(t, err)
	require.Equal(t, []byte("receipt body"), data)
}

func TestGetUnknownAddress(t *testing.T) {
	writer := NewInMemoryWriter()

	address, err := Address([]byte("never stored"))
	require.NoError(t, err)

	_, err = writer.Get(context.Background(), address)
	require.Error(t, err)
	require.ErrorAs(t, err, &ErrNotFound{})
}
