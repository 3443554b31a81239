package tokenstore

import (
	"context"

	"qwenauth/internal/oauth"
)

// Store is the durable token contract consumed by the token manager.
//
// Save must be atomic from the caller's perspective: a concurrent Load
// never observes a partially written token. Load returns (nil, nil)
// when no token exists anywhere; corrupt records at a location are
// treated as absent at that location, not as failures. Delete of a
// nonexistent record is a no-op.
type Store interface {
	Save(ctx context.Context, token *oauth.Token) error
	Load(ctx context.Context) (*oauth.Token, error)
	Delete(ctx context.Context) error
}
