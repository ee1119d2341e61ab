package repository

import "database/sql"

// Repository aggregates every entity store, constructed once at startup and
// threaded through the rest of the Conductor as part of internal/runtime's
// Runtime struct rather than exposed as package-level globals.
type Repository struct {
	Boards       BoardRepository
	Sessions     SessionRepository
	Agents       AgentRepository
	Plugins      PluginRepository
	Services     ServiceRepository
	Webservices  WebserviceRepository
	Ports        PortRepository
	Fleets       FleetRepository
	Requests     RequestRepository
	Conductors   ConductorRepository
}

// New constructs a Repository backed by db.
func New(db *sql.DB) *Repository {
	return &Repository{
		Boards:      NewBoardRepository(db),
		Sessions:    NewSessionRepository(db),
		Agents:      NewAgentRepository(db),
		Plugins:     NewPluginRepository(db),
		Services:    NewServiceRepository(db),
		Webservices: NewWebserviceRepository(db),
		Ports:       NewPortRepository(db),
		Fleets:      NewFleetRepository(db),
		Requests:    NewRequestRepository(db),
		Conductors:  NewConductorRepository(db),
	}
}
