package anchor

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/pkg/errors"
)

// InMemoryWriter is a reference anchor store keeping content in process
// memory. Addresses are CIDv1 over the sha2-256 multihash of the raw bytes,
// so re-anchoring identical content always yields the same address.
type InMemoryWriter struct {
	content map[cid.Cid][]byte
	mu      sync.RWMutex
}

func NewInMemoryWriter() *InMemoryWriter {
	return &InMemoryWriter{
		content: make(map[cid.Cid][]byte),
	}
}

// Address computes the content address of the given bytes without storing them.
func Address(data []byte) (cid.Cid, error) {
	hash, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, errors.Wrap(err, "hashing anchor content")
	}
	return cid.NewCidV1(cid.Raw, hash), nil
}

func (w *InMemoryWriter) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	address, err := Address(data)
	if err != nil {
		return cid.Undef, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.content[address]; !ok {
		w.content[address] = append([]byte(nil), data...)
	}
	return address, nil
}

func (w *InMemoryWriter) Get(ctx context.Context, address cid.Cid) ([]byte, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	data, ok := w.content[address]
	if !ok {
		return nil, ErrNotFound{Address: address}
	}
	return append([]byte(nil), data...), nil
}

// compile-time interface check
var _ Writer = (*InMemoryWriter)(nil)
