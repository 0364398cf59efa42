package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swapmeet/swapmeet/internal/domain/proposal"
)

// ProposalRepository implements proposal.Repository over two append-only tables.
type ProposalRepository struct {
	db *DB
}

func NewProposalRepository(db *DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

func (r *ProposalRepository) AppendProposal(ctx context.Context, p *proposal.Proposal) error {
	var lat, lon *float64
	var label *string
	if p.Location != nil {
		lat, lon, label = &p.Location.Latitude, &p.Location.Longitude, &p.Location.Label
	}
	_, err := r.db.conn(ctx).Exec(ctx, `
		INSERT INTO proposals
		(proposal_id, negotiation_id, kind, proposed_time, latitude, longitude, location_label, message, proposed_by, responds_to, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, p.ProposalID, p.NegotiationID, string(p.Kind), p.ProposedTime, lat, lon, label, p.Message, p.ProposedBy, p.RespondsTo, p.CreatedAt)
	return err
}

func (r *ProposalRepository) AppendResponse(ctx context.Context, resp *proposal.Response) error {
	_, err := r.db.conn(ctx).Exec(ctx, `
		INSERT INTO proposal_responses
		(response_id, proposal_id, negotiation_id, decision, responded_by, superseded_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, resp.ResponseID, resp.ProposalID, resp.NegotiationID, string(resp.Decision), resp.RespondedBy, resp.SupersededBy, resp.CreatedAt)
	return err
}

// Load rebuilds the ledger for a negotiation from its stored entries.
func (r *ProposalRepository) Load(ctx context.Context, negotiationID uuid.UUID) (*proposal.Ledger, error) {
	proposals, err := r.listProposals(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	responses, err := r.listResponses(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	return proposal.Restore(negotiationID, proposals, responses)
}

func (r *ProposalRepository) listProposals(ctx context.Context, negotiationID uuid.UUID) ([]proposal.Proposal, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT proposal_id, negotiation_id, kind, proposed_time, latitude, longitude, location_label, message, proposed_by, responds_to, created_at
		FROM proposals WHERE negotiation_id=$1 ORDER BY proposal_id ASC
	`, negotiationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []proposal.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ProposalRepository) listResponses(ctx context.Context, negotiationID uuid.UUID) ([]proposal.Response, error) {
	rows, err := r.db.conn(ctx).Query(ctx, `
		SELECT response_id, proposal_id, negotiation_id, decision, responded_by, superseded_by, created_at
		FROM proposal_responses WHERE negotiation_id=$1 ORDER BY response_id ASC
	`, negotiationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []proposal.Response
	for rows.Next() {
		var resp proposal.Response
		var decision string
		if err := rows.Scan(&resp.ResponseID, &resp.ProposalID, &resp.NegotiationID, &decision, &resp.RespondedBy, &resp.SupersededBy, &resp.CreatedAt); err != nil {
			return nil, err
		}
		resp.Decision = proposal.Decision(decision)
		out = append(out, resp)
	}
	return out, rows.Err()
}

func scanProposal(row pgx.Row) (proposal.Proposal, error) {
	var p proposal.Proposal
	var kind string
	var lat, lon *float64
	var label *string
	if err := row.Scan(&p.ProposalID, &p.NegotiationID, &kind, &p.ProposedTime, &lat, &lon, &label, &p.Message, &p.ProposedBy, &p.RespondsTo, &p.CreatedAt); err != nil {
		return proposal.Proposal{}, err
	}
	p.Kind = proposal.Kind(kind)
	if lat != nil && lon != nil {
		p.Location = &proposal.Location{Latitude: *lat, Longitude: *lon}
		if label != nil {
			p.Location.Label = *label
		}
	}
	return p, nil
}
