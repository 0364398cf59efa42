package httpapi

import (
	"context"

	"github.com/swapmeet/swapmeet/internal/domain/party"
)

type authContextKey string

const authPartyKey authContextKey = "authParty"

func withAuthParty(ctx context.Context, id party.Identity) context.Context {
	return context.WithValue(ctx, authPartyKey, id)
}

func authPartyFromContext(ctx context.Context) (party.Identity, bool) {
	id, ok := ctx.Value(authPartyKey).(party.Identity)
	return id, ok
}
