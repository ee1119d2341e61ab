// Package onboarding implements the registration handshake a board performs
// the first time it boots against a Conductor (spec.md §4.G), confirmed
// against original_source/iotronic/wamp/functions.py's registration(code,
// session) and board_on_join(session_id) callbacks.
package onboarding

import (
	"fmt"

	"github.com/iotronic/conductor/internal/agentregistry"
	"github.com/iotronic/conductor/internal/logging"
	"github.com/iotronic/conductor/internal/models"
	"github.com/iotronic/conductor/internal/repository"
)

// Config holds the fields merged into every board's onboarding response,
// read from the [conductor]/[wamp] sections (spec.md §6).
type Config struct {
	WampTransportURL string
	WampRealm        string
}

// Service handles registration handshakes.
type Service struct {
	boards   repository.BoardRepository
	sessions repository.SessionRepository
	agents   *agentregistry.Registry
	cfg      Config
}

// New constructs a Service.
func New(boards repository.BoardRepository, sessions repository.SessionRepository, agents *agentregistry.Registry, cfg Config) *Service {
	return &Service{boards: boards, sessions: sessions, agents: agents, cfg: cfg}
}

// RegistrationResult is the config blob handed back to a registering board,
// enough for its lightning-rod agent to open its own WAMP session.
type RegistrationResult struct {
	BoardUUID     string                 `json:"uuid"`
	AssignedAgent string                 `json:"agent"`
	WampTransport string                 `json:"wamp_transport_url"`
	WampRealm     string                 `json:"wamp_realm"`
	Config        map[string]interface{} `json:"config"`
}

// Register looks a board up by its provisioned one-time code, opens a
// session for it (invalidating any stale one), and returns the
// configuration the board needs to establish its own session (spec.md
// §4.G). A board whose status is already past REGISTERED has been
// onboarded before: it is simply reconnecting, so its existing config is
// returned verbatim and no new agent is assigned. Only a board's first
// registration picks a fresh main agent, via the Agent Registry rather
// than the registration agent that carried this very call.
func (s *Service) Register(code string, sessionID int64) (*RegistrationResult, error) {
	board, err := s.boards.GetByCode(code)
	if err != nil {
		return nil, err
	}

	if _, err := s.sessions.Open(board.UUID, sessionID); err != nil {
		return nil, err
	}

	if board.Status != models.BoardStatusRegistered {
		board.Status = models.BoardStatusOffline
		if err := s.boards.Update(board); err != nil {
			return nil, err
		}
		logging.Onboarding().Info().Str("board_uuid", board.UUID).Msg("board reconnected, returning existing config")
		return &RegistrationResult{
			BoardUUID:     board.UUID,
			AssignedAgent: board.Agent,
			WampTransport: s.cfg.WampTransportURL,
			WampRealm:     s.cfg.WampRealm,
			Config:        board.Config,
		}, nil
	}

	mainAgent, err := s.agents.PickBest()
	if err != nil {
		return nil, err
	}
	regAgent, err := s.agents.GetRegistrationAgent()
	if err != nil {
		return nil, err
	}

	config := buildConfig(board, regAgent, mainAgent, s.cfg)

	board.Agent = mainAgent.Hostname
	board.Config = config
	board.Status = models.BoardStatusOffline
	if err := s.boards.Update(board); err != nil {
		return nil, err
	}

	logging.Onboarding().Info().Str("board_uuid", board.UUID).Str("agent", board.Agent).Msg("board registered")

	return &RegistrationResult{
		BoardUUID:     board.UUID,
		AssignedAgent: board.Agent,
		WampTransport: s.cfg.WampTransportURL,
		WampRealm:     s.cfg.WampRealm,
		Config:        config,
	}, nil
}

// buildConfig assembles the config blob a newly registered board receives:
// both agent URLs it will ever need (the registration agent it just used,
// and the main agent assigned for its ongoing session) plus its own
// identity, under the wamp.registration-agent / wamp.main-agent keys
// (spec.md §6).
func buildConfig(board *models.Board, regAgent, mainAgent *models.Agent, cfg Config) map[string]interface{} {
	return map[string]interface{}{
		"wamp": map[string]interface{}{
			"registration-agent": map[string]interface{}{"url": regAgent.WSURL, "realm": cfg.WampRealm},
			"main-agent":         map[string]interface{}{"url": mainAgent.WSURL, "realm": cfg.WampRealm},
		},
		"board": map[string]interface{}{
			"id":         board.ID,
			"uuid":       board.UUID,
			"name":       board.Name,
			"type":       board.Type,
			"created_at": board.CreatedAt,
			"updated_at": board.UpdatedAt,
		},
		"extra": board.Extra,
	}
}

// ValidateCode does a cheap existence check for a registration code without
// mutating state. Nothing in internal/api calls it.
func (s *Service) ValidateCode(code string) error {
	_, err := s.boards.GetByCode(code)
	if err != nil {
		return fmt.Errorf("validating registration code: %w", err)
	}
	return nil
}
