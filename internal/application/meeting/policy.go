package meeting

import (
	"errors"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/swapmeet/swapmeet/internal/domain/meeting"
	"github.com/swapmeet/swapmeet/internal/domain/negotiation"
)

// DefaultTrackingPolicy allows live tracking once both parties have paid.
const DefaultTrackingPolicy = `status == "paid_complete"`

// Policy decides whether live tracking may start. Expressions see status,
// buyerPaid, sellerPaid and trackable.
type Policy struct {
	source string
	expr   *govaluate.EvaluableExpression
}

// NewPolicy compiles expression. Empty uses DefaultTrackingPolicy.
func NewPolicy(expression string) (*Policy, error) {
	src := strings.TrimSpace(expression)
	if src == "" {
		src = DefaultTrackingPolicy
	}
	expr, err := govaluate.NewEvaluableExpression(src)
	if err != nil {
		return nil, err
	}
	return &Policy{source: src, expr: expr}, nil
}

func (p *Policy) String() string {
	return p.source
}

// Allows evaluates the policy for a negotiation and its session.
func (p *Policy) Allows(n *negotiation.Negotiation, s *meeting.Session) (bool, error) {
	params := map[string]interface{}{
		"status":     string(n.Status),
		"buyerPaid":  n.BuyerPaid,
		"sellerPaid": n.SellerPaid,
		"trackable":  s != nil && s.Trackable(),
	}
	result, err := p.expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	v, ok := result.(bool)
	if !ok {
		return false, errors.New("tracking policy did not evaluate to boolean")
	}
	return v, nil
}
