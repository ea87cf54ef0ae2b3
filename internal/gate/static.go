package gate

import "context"

// StaticGate is an in-memory gate for tests. Actors not present answer
// false to everything.
type StaticGate struct {
	Roles      map[int64]string
	Inactive   map[int64]bool
	Unverified map[int64]bool
}

var _ Gate = (*StaticGate)(nil)

func (g *StaticGate) Role(_ context.Context, actorID int64) (string, error) {
	return g.Roles[actorID], nil
}

func (g *StaticGate) HasRole(_ context.Context, actorID int64, role string) (bool, error) {
	r, ok := g.Roles[actorID]
	return ok && (r == role || r == "admin"), nil
}

func (g *StaticGate) IsActive(_ context.Context, actorID int64) (bool, error) {
	_, ok := g.Roles[actorID]
	return ok && !g.Inactive[actorID], nil
}

func (g *StaticGate) IsFullyActive(ctx context.Context, actorID int64) (bool, error) {
	active, _ := g.IsActive(ctx, actorID)
	return active && !g.Unverified[actorID], nil
}
