// Package identity resolves transport credentials into stable chat identities.
//
// The chat service never owns accounts; userhub remains the source of truth.
// Identities returned here are snapshots taken at the moment of use.
package identity

import (
	"context"
	"errors"
)

// ErrUnresolved indicates credentials or a user id could not be mapped to an
// identity. Callers decide whether that is fatal; the permissive handshake
// path treats it as "connect without identity".
var ErrUnresolved = errors.New("identity could not be resolved")

// Identity is an immutable snapshot of one userhub account.
type Identity struct {
	ID     int64
	Name   string
	Avatar string
}

// Credentials carries the authentication material a connection presented
// during the handshake. Either field may be empty.
type Credentials struct {
	SessionID string
	Token     string
}

// Resolver maps handshake credentials and user ids to identity snapshots.
type Resolver interface {
	// Authenticate resolves handshake credentials into an identity.
	// Returns ErrUnresolved when the credentials do not map to an account.
	Authenticate(ctx context.Context, creds Credentials) (Identity, error)

	// Lookup fetches the current display metadata for a known user id.
	// Returns ErrUnresolved when the account does not exist.
	Lookup(ctx context.Context, userID int64) (Identity, error)
}
