package validation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorUnwrapsToInvalid(t *testing.T) {
	err := Errorf("latitude %d out of range", 91)
	assert.EqualError(t, err, "latitude 91 out of range")
	assert.ErrorIs(t, err, ErrInvalid)

	wrapped := fmt.Errorf("propose location: %w", New("location label is required"))
	assert.ErrorIs(t, wrapped, ErrInvalid)

	var verr *Error
	assert.True(t, errors.As(wrapped, &verr))
	assert.False(t, errors.Is(errors.New("connection reset"), ErrInvalid))
}
