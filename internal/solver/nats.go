package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/railtms/core/pkg/messaging"
)

// defaultTimeout bounds how long the scheduler waits for a solver
// reply before treating the call as failed (and tripping the
// scheduler's solver circuit breaker).
const defaultTimeout = 3 * time.Second

// SubjectConflictSolve is the NATS subject the solver listens on.
const SubjectConflictSolve = "solver.resolve"

// NATSSolver dispatches solve requests over NATS request/reply. It
// never inspects what's on the other end of the subject — any
// collaborator replying with the Response shape satisfies the port.
type NATSSolver struct {
	client  *messaging.Client
	timeout time.Duration
}

// NewNATS builds a NATSSolver over an already-connected client.
func NewNATS(client *messaging.Client) *NATSSolver {
	return &NATSSolver{client: client, timeout: defaultTimeout}
}

func (s *NATSSolver) Solve(ctx context.Context, req Request) (Response, error) {
	msg, err := s.client.Request(ctx, SubjectConflictSolve, req, s.timeout)
	if err != nil {
		return Response{}, fmt.Errorf("solver: request: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return Response{}, fmt.Errorf("solver: unmarshal reply: %w", err)
	}
	return resp, nil
}
