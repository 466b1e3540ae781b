package interfaces

import "liveclass/pkg/types"

// TokenVerifier resolves an opaque auth token into a verified identity.
type TokenVerifier interface {
	Verify(token string) (types.Identity, error)
}
