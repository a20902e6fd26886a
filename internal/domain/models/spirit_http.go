package models

// HistoryRequest is the query model for GET /spirit/history. Limits above
// the gateway's history cap are clamped by the handler, not rejected.
type HistoryRequest struct {
	Limit int `query:"limit" default:"50" validate:"gte=0"`
}

// HistoryResponse wraps the history query result.
type HistoryResponse struct {
	Events []*SpiritEvent `json:"events"`
	Total  uint64         `json:"total"`
}

// StatusResponse is the payload for GET /spirit/status.
type StatusResponse struct {
	Status           string       `json:"status"`
	LastHeartbeat    int64        `json:"lastHeartbeat"`
	LastEvent        *SpiritEvent `json:"lastEvent,omitempty"`
	UptimeSeconds    int64        `json:"uptime"`
	ConnectedClients int          `json:"connectedClients"`
}

// HeartbeatRequest is the optional custom body for POST /spirit/heartbeat.
// Empty fields fall back to a plain liveness heartbeat.
type HeartbeatRequest struct {
	Type        string                 `json:"type" default:"heartbeat" validate:"omitempty,oneof=heartbeat system_status signal_detected risk_alert strategy_decision"`
	Priority    string                 `json:"priority" default:"p4" validate:"omitempty,oneof=p0 p1 p2 p3 p4"`
	SpiritState string                 `json:"spiritState" default:"monitoring" validate:"omitempty,oneof=dormant monitoring analyzing executing alerting error"`
	Title       string                 `json:"title" default:"Heartbeat" validate:"max=256"`
	Content     string                 `json:"content" validate:"max=4096"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// StreamFrame is one frame on the /spirit/ws stream.
type StreamFrame struct {
	Type string      `json:"type"` // "init" or "spirit_event"
	Data interface{} `json:"data"`
}

// InitPayload is the data of the first frame sent to a new stream client.
type InitPayload struct {
	Status StatusResponse `json:"status"`
	Events []*SpiritEvent `json:"events"`
}
