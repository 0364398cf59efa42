package payment

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/swapmeet/swapmeet/internal/domain/validation"
)

// Amount is money in minor units (cents).
type Amount int64

// ParseAmount parses a decimal string such as "2", "0.75" or "12.5".
func ParseAmount(raw string) (Amount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, validation.New("amount is required")
	}
	if strings.HasPrefix(raw, "-") {
		return 0, validation.Errorf("amount must not be negative: %s", raw)
	}
	whole, frac, _ := strings.Cut(raw, ".")
	if len(frac) > 2 {
		return 0, validation.Errorf("amount has more than two decimals: %s", raw)
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return 0, validation.Errorf("invalid amount %q", raw)
		}
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, validation.Errorf("invalid amount %q: %v", raw, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, validation.Errorf("invalid amount %q: %v", raw, err)
	}
	return Amount(units*100 + cents), nil
}

func MustParseAmount(raw string) Amount {
	a, err := ParseAmount(raw)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (a Amount) IsZero() bool {
	return a == 0
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var f json.Number
		if err := json.Unmarshal(data, &f); err != nil {
			return validation.New("amount must be a decimal string")
		}
		s = f.String()
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AmountDue applies credit against fee: due = max(0, fee - min(credit, fee)).
func AmountDue(fee, credit Amount) (applied Amount, due Amount) {
	if credit < 0 {
		credit = 0
	}
	applied = credit
	if applied > fee {
		applied = fee
	}
	due = fee - applied
	if due < 0 {
		due = 0
	}
	return applied, due
}
