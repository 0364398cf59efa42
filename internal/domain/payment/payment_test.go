package payment

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountDue(t *testing.T) {
	tests := []struct {
		fee, credit  string
		applied, due string
	}{
		{fee: "2.00", credit: "0.75", applied: "0.75", due: "1.25"},
		{fee: "2.00", credit: "5.00", applied: "2.00", due: "0.00"},
		{fee: "2.00", credit: "0", applied: "0.00", due: "2.00"},
		{fee: "2.00", credit: "2.00", applied: "2.00", due: "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.fee+"-"+tt.credit, func(t *testing.T) {
			applied, due := AmountDue(MustParseAmount(tt.fee), MustParseAmount(tt.credit))
			assert.Equal(t, tt.applied, applied.String())
			assert.Equal(t, tt.due, due.String())
		})
	}
}

func TestAmountDueIgnoresNegativeCredit(t *testing.T) {
	applied, due := AmountDue(200, -50)
	assert.Equal(t, Amount(0), applied)
	assert.Equal(t, Amount(200), due)
}

func TestParseAmount(t *testing.T) {
	ok := map[string]Amount{"2": 200, "2.5": 250, "0.75": 75, ".5": 50, "12.05": 1205}
	for raw, want := range ok {
		got, err := ParseAmount(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"", "-1", "1.234", "abc", "1.x"} {
		_, err := ParseAmount(raw)
		assert.Error(t, err, raw)
	}
}

func TestAmountJSON(t *testing.T) {
	q := NewQuote(uuid.Nil, "alice", 200, 75)
	raw, err := json.Marshal(q)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"amountDue":"1.25"`)

	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`1.5`), &a))
	assert.Equal(t, Amount(150), a)
}

func TestFeePolicy(t *testing.T) {
	policy, err := ParseFeePolicy("standard=2.00, express=3.50", 100)
	require.NoError(t, err)
	assert.Equal(t, Amount(200), policy.FeeFor("standard"))
	assert.Equal(t, Amount(350), policy.FeeFor("express"))
	assert.Equal(t, Amount(100), policy.FeeFor("unknown"))

	_, err = ParseFeePolicy("standard", 100)
	assert.Error(t, err)
}

func TestIdempotencyKey(t *testing.T) {
	id := uuid.MustParse("5b7e4d2c-1111-4c22-9a33-444455556666")
	assert.Equal(t, "5b7e4d2c-1111-4c22-9a33-444455556666:alice", IdempotencyKey(id, "alice"))
}
