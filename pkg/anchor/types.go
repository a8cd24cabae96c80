package anchor

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
)

// Writer is the contract of the external content-addressed, tamper-evident
// log that execution receipts are anchored in. Content addressing implies Put
// is idempotent: identical bytes yield identical addresses, wherever they are
// stored.
type Writer interface {
	// Put stores the bytes and returns their content address.
	Put(ctx context.Context, data []byte) (cid.Cid, error)

	// Get returns the bytes stored at the content address.
	Get(ctx context.Context, address cid.Cid) ([]byte, error)
}

// ErrNotFound is returned when no content exists at the given address.
type ErrNotFound struct {
	Address cid.Cid
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("no anchored content at address %s", e.Address)
}
