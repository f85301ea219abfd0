// Package api defines the JSON contract served by trafficxiad over its unix
// socket.
package api

import "time"

const SchemaVersion = "v1"

type HealthResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"`
	RunID         string    `json:"run_id,omitempty"`
}

type SignalItem struct {
	ApproachID int    `json:"approach_id"`
	Name       string `json:"name"`
	Phase      string `json:"phase"`
}

type StatusResponse struct {
	SchemaVersion    string       `json:"schema_version"`
	GeneratedAt      time.Time    `json:"generated_at"`
	RunID            string       `json:"run_id"`
	TickSeq          int64        `json:"tick_seq"`
	TickAt           *time.Time   `json:"tick_at,omitempty"`
	CycleSeq         int64        `json:"cycle_seq"`
	ActiveApproach   int          `json:"active_approach"`
	Phase            string       `json:"phase"`
	PhaseStartedAt   *time.Time   `json:"phase_started_at,omitempty"`
	CommittedGreenMS int64        `json:"committed_green_ms"`
	Extensions       int          `json:"extensions"`
	Signals          []SignalItem `json:"signals"`
}

type ApproachItem struct {
	ApproachID   int        `json:"approach_id"`
	Name         string     `json:"name"`
	SensorRef    string     `json:"sensor_ref"`
	Count        int        `json:"count"`
	LastSampleAt *time.Time `json:"last_sample_at,omitempty"`
	IdleStreak   int        `json:"idle_streak"`
	Stale        bool       `json:"stale"`
}

type ApproachesEnvelope struct {
	SchemaVersion string         `json:"schema_version"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Approaches    []ApproachItem `json:"approaches"`
}

type PhaseEventItem struct {
	EventID          string    `json:"event_id"`
	Seq              int64     `json:"seq"`
	ApproachID       int       `json:"approach_id"`
	Phase            string    `json:"phase"`
	EnteredAt        time.Time `json:"entered_at"`
	CommittedGreenMS int64     `json:"committed_green_ms"`
	Extensions       int       `json:"extensions"`
}

type EventsEnvelope struct {
	SchemaVersion string           `json:"schema_version"`
	GeneratedAt   time.Time        `json:"generated_at"`
	RunID         string           `json:"run_id"`
	Events        []PhaseEventItem `json:"events"`
}

// SampleRequest is the push ingest from the external detection pipeline.
type SampleRequest struct {
	ApproachID int        `json:"approach_id"`
	Count      int        `json:"count"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}

type SampleResponse struct {
	Accepted   bool      `json:"accepted"`
	ApproachID int       `json:"approach_id"`
	RecordedAt time.Time `json:"recorded_at"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}
