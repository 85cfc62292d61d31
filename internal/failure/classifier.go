package failure

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"
)

// Signature identifies a build failure by content. Two attempts with the same
// signature are the same failure.
type Signature string

// WholeRun is the target used when a failure cannot be attributed to a
// specific file.
const WholeRun = "<run>"

// Normalization scrubs the volatile parts of build output so that
// functionally-identical failures collapse to one signature: CRs, trailing
// whitespace, timestamps, and elapsed-time decorations.
var (
	isoTimestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)
	clockRe        = regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}\b`)
	elapsedRe      = regexp.MustCompile(`\b\d+(\.\d+)?(ms|s|m)\b`)
)

// Normalize applies the scrubbing rules. It is applied identically to every
// Fingerprint call, so the same failure always hashes the same.
func Normalize(output string) string {
	s := strings.ReplaceAll(output, "\r", "")
	s = isoTimestampRe.ReplaceAllString(s, "<ts>")
	s = clockRe.ReplaceAllString(s, "<ts>")
	s = elapsedRe.ReplaceAllString(s, "<dur>")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// Fingerprint computes the deterministic signature of build output.
func Fingerprint(output string) Signature {
	sum := blake3.Sum256([]byte(Normalize(output)))
	return Signature(hex.EncodeToString(sum[:]))
}

// Tracker keeps a bounded sliding window of the most recent signatures per
// target. Owned by the orchestrator; not safe for concurrent use, and the
// loop never needs it to be.
type Tracker struct {
	capacity int
	windows  map[string][]Signature
}

// NewTracker creates a Tracker with the given window capacity.
func NewTracker(capacity int) *Tracker {
	if capacity < 2 {
		capacity = 2
	}
	return &Tracker{capacity: capacity, windows: make(map[string][]Signature)}
}

// Capacity returns the window capacity.
func (t *Tracker) Capacity() int {
	return t.capacity
}

// Record appends a signature to the target's window, evicting the oldest
// entry if over capacity, and returns how many entries in the window equal
// the new signature.
func (t *Tracker) Record(target string, sig Signature) int {
	w := append(t.windows[target], sig)
	if len(w) > t.capacity {
		w = w[len(w)-t.capacity:]
	}
	t.windows[target] = w

	count := 0
	for _, s := range w {
		if s == sig {
			count++
		}
	}
	return count
}

// Window returns a copy of the target's current window.
func (t *Tracker) Window(target string) []Signature {
	w := t.windows[target]
	out := make([]Signature, len(w))
	copy(out, w)
	return out
}

// Reset clears a target's history. Called when the target builds clean or is
// skipped.
func (t *Tracker) Reset(target string) {
	delete(t.windows, target)
}
