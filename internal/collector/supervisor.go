package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/skyline-signage/player-core/internal/logging"
)

// SupervisorConfig mirrors cartographus's TreeConfig (internal/supervisor/tree.go)
// scaled down to the single supervision tier this daemon needs: one
// collection-cycle service, optionally one sync coordinator alongside it.
type SupervisorConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
}

// DefaultSupervisorConfig mirrors suture's own built-in defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
	}
}

// Supervisor restarts the collection-cycle service (and any other
// suture.Service registered alongside it, e.g. the sync coordinator) on
// panic or unexpected exit, per §7's requirement that a failed cycle never
// wedges the daemon.
type Supervisor struct {
	tree *suture.Supervisor
}

// NewSupervisor constructs the top-level supervisor tree.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	spec := suture.Spec{
		EventHook: func(ev suture.Event) {
			logging.Component("collector").Warn().Str("event", fmt.Sprintf("%v", ev)).Msg("supervisor event")
		},
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
	}
	return &Supervisor{tree: suture.New("playerd", spec)}
}

// Add registers a service (a *Collector or any other suture.Service, such
// as internal/synccoord.Coordinator) under the tree.
func (s *Supervisor) Add(service suture.Service) {
	s.tree.Add(service)
}

// Serve runs the supervisor tree until ctx is cancelled.
func (s *Supervisor) Serve(ctx context.Context) error {
	return s.tree.Serve(ctx)
}
