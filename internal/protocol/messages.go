package protocol

// HelloMsg opens an observer session.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ObserverName    string `json:"observer_name,omitempty"`
}

// WelcomeMsg acknowledges an observer and pins the catalog digests the
// town was started with.
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	TownID          string         `json:"town_id"`
	TickRateHz      int            `json:"tick_rate_hz"`
	DayTicks        int            `json:"day_ticks"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type CatalogDigests struct {
	LocationsDigest  string `json:"locations_digest"`
	ActivitiesDigest string `json:"activities_digest"`
	AliasesDigest    string `json:"aliases_digest"`
}

// ObsMsg is the per-tick read-only projection an observer client renders.
type ObsMsg struct {
	Type   string     `json:"type"`
	Tick   uint64     `json:"tick"`
	Agents []AgentObs `json:"agents"`
}

type AgentObs struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Label string `json:"label"`
	State string `json:"state"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
