// Package gate answers the authorization questions the core asks before
// every mutation: does this actor hold role R, and is the actor active?
// The core never consults the stakeholder records directly; it receives a
// Context resolved once per call, so tests can inject fakes.
package gate

import (
	"context"

	"github.com/agritrace/agritrace/internal/model"
)

// Gate is the authorization oracle.
type Gate interface {
	Role(ctx context.Context, actorID int64) (string, error)
	HasRole(ctx context.Context, actorID int64, role string) (bool, error)
	IsActive(ctx context.Context, actorID int64) (bool, error)
	IsFullyActive(ctx context.Context, actorID int64) (bool, error)
}

// Context is the per-call authorization context: the resolved identity of
// the caller. Store operations take it by value and check role/active
// flags without further gate round-trips.
type Context struct {
	ActorID  int64
	Username string
	Role     string
	Active   bool
	Verified bool
}

// HasRole reports whether the caller holds the role. Admins hold every
// role implicitly.
func (c Context) HasRole(role string) bool {
	return c.Role == role || c.Role == model.RoleAdmin
}

// FullyActive reports whether the caller is activated and verified.
func (c Context) FullyActive() bool {
	return c.Active && c.Verified
}

// Resolve builds a per-call Context for an actor by consulting the gate.
// The role is read from the gate rather than trusted from the caller, so
// a role change applies to tokens issued before it.
func Resolve(ctx context.Context, g Gate, actorID int64, username string) (Context, error) {
	role, err := g.Role(ctx, actorID)
	if err != nil {
		return Context{}, err
	}
	active, err := g.IsActive(ctx, actorID)
	if err != nil {
		return Context{}, err
	}
	fully, err := g.IsFullyActive(ctx, actorID)
	if err != nil {
		return Context{}, err
	}
	return Context{
		ActorID:  actorID,
		Username: username,
		Role:     role,
		Active:   active,
		Verified: fully,
	}, nil
}
