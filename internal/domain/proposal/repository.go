package proposal

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists ledger entries. Entries are only ever appended.
type Repository interface {
	AppendProposal(ctx context.Context, p *Proposal) error
	AppendResponse(ctx context.Context, r *Response) error
	Load(ctx context.Context, negotiationID uuid.UUID) (*Ledger, error)
}
