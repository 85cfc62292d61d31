package proposer

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrBackendUnavailable is returned once the local retry budget for a backend
// is exhausted. Callers fall back to the heuristic path; the error is never
// fatal to the run.
var ErrBackendUnavailable = errors.New("fix backend unavailable")

// Request carries the failure context a backend needs to propose a fix.
type Request struct {
	Task        string   // the run's goal description
	FailureTail string   // bounded tail of the failing build output
	Target      string   // file under repair, if attributed
	Listing     []string // optional directory listing of the target area
}

// Proposal is the backend's raw response. Parsing into edits happens in the
// patch package; a Proposal is transient within one iteration.
type Proposal struct {
	Raw     string
	Backend string
}

// Proposer turns failure context into a candidate fix. Implementations are
// interchangeable; the control loop never depends on which backend answers.
type Proposer interface {
	Propose(ctx context.Context, req Request) (*Proposal, error)
}

// HealthChecker is implemented by backends that can be pinged at startup.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// systemInstruction tells the backend how to shape its answer so the fence
// parser can decompose it.
const systemInstruction = `You are an autonomous build-repair assistant.
You are given the tail of a failing build log. Respond with the complete
corrected content of each file that must change, one fenced code block per
file, with the file path on the fence line (e.g. ` + "```c path=src/main.c" + `).
Do not include commentary inside the code blocks.`

// userPrompt renders the request into the user message.
func userPrompt(req Request) string {
	var b strings.Builder
	if req.Task != "" {
		fmt.Fprintf(&b, "Goal: %s\n\n", req.Task)
	}
	if req.Target != "" {
		fmt.Fprintf(&b, "File under repair: %s\n\n", req.Target)
	}
	if len(req.Listing) > 0 {
		fmt.Fprintf(&b, "Files in the target area:\n%s\n\n", strings.Join(req.Listing, "\n"))
	}
	fmt.Fprintf(&b, "Build output (tail):\n%s\n", req.FailureTail)
	return b.String()
}
