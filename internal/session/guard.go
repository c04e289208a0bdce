package session

import "context"

// Guard gates navigation on the session.
type Guard struct {
	o *Orchestrator
}

// NewGuard returns a guard over o.
func NewGuard(o *Orchestrator) *Guard {
	return &Guard{o: o}
}

// Allow reports whether the caller may proceed. It allows at once when
// Authenticated. Otherwise it waits for the startup or silent flow to
// resolve (starting it if needed); on failure it schedules an interactive
// login and denies.
func (g *Guard) Allow(ctx context.Context) (bool, error) {
	snap := g.o.Snapshot()
	switch snap.State {
	case Authenticated:
		return true, nil
	case Uninitialized:
		if _, err := g.o.Start(ctx); err != nil {
			return false, err
		}
	}

	snap, err := g.o.WaitResolved(ctx)
	if err != nil {
		return false, err
	}
	if snap.State == Authenticated {
		return true, nil
	}
	g.o.scheduleInteractive()
	return false, nil
}
