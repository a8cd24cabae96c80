package orchestrator

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/ipfs/go-cid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/coopmesh-project/coopmesh/pkg/anchor"
	"github.com/coopmesh-project/coopmesh/pkg/lib/backoff"
	"github.com/coopmesh-project/coopmesh/pkg/models"
)

type AnchorerParams struct {
	Writer   anchor.Writer
	Backoff  backoff.Backoff
	Attempts int
}

// Anchorer writes execution receipts to the anchor store, retrying transient
// failures with backoff. The receipt body excludes the signature and any
// previous anchor reference, so anchoring is idempotent: the same receipt
// always lands at the same content address.
type Anchorer struct {
	writer   anchor.Writer
	backoff  backoff.Backoff
	attempts int
}

func NewAnchorer(params AnchorerParams) *Anchorer {
	a := &Anchorer{
		writer:   params.Writer,
		backoff:  params.Backoff,
		attempts: params.Attempts,
	}
	if a.backoff == nil {
		a.backoff = backoff.NewNoop()
	}
	if a.attempts < 1 {
		a.attempts = 1
	}
	return a
}

func (a *Anchorer) Anchor(ctx context.Context, receipt models.ExecutionReceipt) (cid.Cid, error) {
	body, err := receipt.Body()
	if err != nil {
		return cid.Undef, errors.Wrap(err, "failed to serialize receipt body")
	}

	var mErr *multierror.Error
	for attempt := 0; attempt < a.attempts; attempt++ {
		if attempt > 0 {
			a.backoff.Backoff(ctx, attempt)
		}
		address, putErr := a.writer.Put(ctx, body)
		if putErr == nil {
			return address, nil
		}
		log.Ctx(ctx).Debug().Err(putErr).Str("JobID", receipt.JobID).Int("Attempt", attempt+1).
			Msg("anchor write failed")
		mErr = multierror.Append(mErr, putErr)
		if ctx.Err() != nil {
			break
		}
	}
	return cid.Undef, errors.Wrapf(mErr.ErrorOrNil(), "failed to anchor receipt for job %s", receipt.JobID)
}
