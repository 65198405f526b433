package resource

import "log/slog"

// Guard cleans one handle when closed, unless it was disarmed. Use it with
// defer.
type Guard struct {
	m        *Manager
	id       ID
	disarmed bool
}

// NewGuard guards id of m.
func NewGuard(m *Manager, id ID) *Guard {
	return &Guard{m: m, id: id}
}

// ID is the guarded handle.
func (g *Guard) ID() ID {
	return g.id
}

// Disarm keeps the resource alive when the guard is closed.
func (g *Guard) Disarm() {
	g.disarmed = true
}

// Close cleans the handle.
func (g *Guard) Close() error {
	if g.disarmed {
		return nil
	}
	return g.m.Cleanup(g.id)
}

// Scope owns the resources of one operation. Close releases all of them.
//
//	scope := resource.NewScope(logger)
//	defer func() { err = errors.Join(err, scope.Close()) }()
type Scope struct {
	*Manager
}

// NewScope returns an empty scope.
func NewScope(logger *slog.Logger) *Scope {
	return &Scope{Manager: NewManager(logger)}
}

// Close releases every resource of the scope.
func (s *Scope) Close() error {
	return s.CleanupAll()
}
