package failure

// Decision is the loop guard's verdict for a target.
type Decision int

const (
	// Continue means the target may keep receiving fix attempts.
	Continue Decision = iota
	// Oscillating means the target repeats the same failure without progress
	// and must be rolled back and skipped.
	Oscillating
)

// SkipNotice describes why a target was skipped, for the caller to log.
type SkipNotice struct {
	Target     string
	Signature  Signature
	Iterations int
}

// Guard watches per-target failure windows and maintains the skip list.
// The skip list grows monotonically within a run.
type Guard struct {
	tracker *Tracker
	skipped map[string]SkipNotice
}

// NewGuard creates a Guard over the given tracker.
func NewGuard(tracker *Tracker) *Guard {
	return &Guard{tracker: tracker, skipped: make(map[string]SkipNotice)}
}

// Check declares Oscillating iff the target's window is full and every entry
// is identical. It does not mutate anything; the caller decides to Skip.
func (g *Guard) Check(target string) Decision {
	w := g.tracker.Window(target)
	if len(w) < g.tracker.Capacity() {
		return Continue
	}
	first := w[0]
	for _, s := range w[1:] {
		if s != first {
			return Continue
		}
	}
	return Oscillating
}

// Skip adds a target to the skip list and resets its window. Returns the
// notice for logging. Skipping an already-skipped target returns the
// original notice.
func (g *Guard) Skip(target string, sig Signature, iterations int) SkipNotice {
	if n, ok := g.skipped[target]; ok {
		return n
	}
	n := SkipNotice{Target: target, Signature: sig, Iterations: iterations}
	g.skipped[target] = n
	g.tracker.Reset(target)
	return n
}

// Skipped reports whether a target is on the skip list.
func (g *Guard) Skipped(target string) bool {
	_, ok := g.skipped[target]
	return ok
}

// SkipList returns the targets skipped so far.
func (g *Guard) SkipList() []SkipNotice {
	out := make([]SkipNotice, 0, len(g.skipped))
	for _, n := range g.skipped {
		out = append(out, n)
	}
	return out
}
