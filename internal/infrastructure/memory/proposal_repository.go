package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/swapmeet/swapmeet/internal/domain/proposal"
)

// ProposalRepository implements proposal.Repository.
type ProposalRepository struct {
	s *Store
}

func (r *ProposalRepository) AppendProposal(ctx context.Context, p *proposal.Proposal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id := p.NegotiationID
	prev := r.s.proposals[id]
	r.s.proposals[id] = append(append([]proposal.Proposal(nil), prev...), *p)
	r.s.onRollback(ctx, func() { r.s.proposals[id] = prev })
	return nil
}

func (r *ProposalRepository) AppendResponse(ctx context.Context, resp *proposal.Response) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id := resp.NegotiationID
	prev := r.s.responses[id]
	r.s.responses[id] = append(append([]proposal.Response(nil), prev...), *resp)
	r.s.onRollback(ctx, func() { r.s.responses[id] = prev })
	return nil
}

func (r *ProposalRepository) Load(_ context.Context, negotiationID uuid.UUID) (*proposal.Ledger, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return proposal.Restore(negotiationID, r.s.proposals[negotiationID], r.s.responses[negotiationID])
}
