// Package agentregistry tracks which wamp-agent processes are online and
// which one currently holds WAMP registration duty (spec.md §4.B).
//
// Grounded on the teacher's internal/services package: AgentHub's
// register/unregister/touch lifecycle and AgentSelector's selection-by-
// criteria shape, simplified to the uniform-random "pick_best" policy
// spec.md calls for instead of the teacher's load-scored selection.
package agentregistry

import (
	"math/rand"
	"time"

	"github.com/iotronic/conductor/internal/apperrors"
	"github.com/iotronic/conductor/internal/logging"
	"github.com/iotronic/conductor/internal/models"
	"github.com/iotronic/conductor/internal/repository"
)

// Registry manages Agent registration state.
type Registry struct {
	agents repository.AgentRepository
	rand   *rand.Rand
}

// New constructs a Registry backed by repo.
func New(repo repository.AgentRepository) *Registry {
	return &Registry{agents: repo, rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Register marks hostname online, demoting any existing registration agent
// first if this agent is requesting ragent duty (spec.md §4.B: "at most one
// online agent may have ragent=true").
func (r *Registry) Register(hostname, wsURL string, ragent bool) error {
	err := r.agents.Register(&models.Agent{Hostname: hostname, WSURL: wsURL, Ragent: ragent})
	if err != nil {
		return err
	}
	logging.Agents().Info().Str("hostname", hostname).Bool("ragent", ragent).Msg("agent registered")
	return nil
}

// Touch refreshes an agent's heartbeat timestamp.
func (r *Registry) Touch(hostname string) error {
	return r.agents.Touch(hostname)
}

// Unregister marks an agent offline and removes its registration.
func (r *Registry) Unregister(hostname string) error {
	if err := r.agents.Unregister(hostname); err != nil {
		return err
	}
	logging.Agents().Info().Str("hostname", hostname).Msg("agent unregistered")
	return nil
}

// GetRegistrationAgent returns the single online agent with ragent=true, or
// a NoRegistrationAgent error if none is online (spec.md §4.G onboarding
// cannot proceed without one).
func (r *Registry) GetRegistrationAgent() (*models.Agent, error) {
	return r.agents.GetRegistrationAgent()
}

// PickBest selects an online agent to own a newly connecting board.
// Uniform-random among online agents, per spec.md §4.B (a deliberate
// simplification of the teacher's load-scored AgentSelector.SelectAgent).
func (r *Registry) PickBest() (*models.Agent, error) {
	online, err := r.agents.ListOnline()
	if err != nil {
		return nil, err
	}
	if len(online) == 0 {
		return nil, apperrors.NoAgents()
	}
	return online[r.rand.Intn(len(online))], nil
}

// MarkOffline flips an agent's online flag without deleting its record,
// unlike Unregister. No job in internal/runtime calls it.
func (r *Registry) MarkOffline(hostname string) error {
	return r.agents.SetOnline(hostname, false)
}
