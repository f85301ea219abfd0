package model

import (
	"errors"
	"time"
)

// Phase is the signal state of one approach.
type Phase string

const (
	PhaseGreen  Phase = "green"
	PhaseYellow Phase = "yellow"
	PhaseAllRed Phase = "all_red"
	PhaseRed    Phase = "red"
)

// Decision is the extension policy verdict for one green tick.
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionExtend   Decision = "extend"
	DecisionEnd      Decision = "end"
)

// NoApproach marks cycle states with no approach holding right-of-way.
const NoApproach = -1

// ApproachSnapshot is a read-only copy of one approach's registry state.
type ApproachSnapshot struct {
	ID           int
	Name         string
	SensorRef    string
	Count        int
	LastSampleAt time.Time
	IdleStreak   int
}

// CycleState is the controller's single source of truth. Only the transition
// guard mutates it.
type CycleState struct {
	ActiveApproach int
	Phase          Phase
	PhaseStartedAt time.Time
	CommittedGreen time.Duration
	Extensions     int
	CycleSeq       int64
}

type SignalCommand struct {
	ApproachID int
	Phase      Phase
}

// TickOutput is the command set emitted once per tick. The active approach
// carries the cycle phase, every other approach is red.
type TickOutput struct {
	Seq      int64
	At       time.Time
	State    CycleState
	Commands []SignalCommand
}

// PhaseEvent is one journal row: an approach entering a phase.
type PhaseEvent struct {
	EventID        string
	RunID          string
	Seq            int64
	ApproachID     int
	Phase          Phase
	EnteredAt      time.Time
	CommittedGreen time.Duration
	Extensions     int
}

type SamplerEventKind string

const (
	SamplerStale     SamplerEventKind = "stale"
	SamplerRecovered SamplerEventKind = "recovered"
)

// SamplerEvent journals a sampler degrading past the staleness ceiling or
// coming back.
type SamplerEvent struct {
	EventID    string
	RunID      string
	ApproachID int
	Kind       SamplerEventKind
	ObservedAt time.Time
}

// Run is one controller process lifetime in the journal.
type Run struct {
	RunID      string
	StartedAt  time.Time
	EndedAt    *time.Time
	ConfigJSON string
}

var (
	ErrUnknownApproach = errors.New("unknown approach")
	ErrInvalidConfig   = errors.New("invalid config")
	ErrSafetyViolation = errors.New("safety violation")
)

// Error codes defined by the API contract.
const (
	ErrCodeUnknownApproach = "E_UNKNOWN_APPROACH"
	ErrCodeInvalidRequest  = "E_INVALID_REQUEST"
	ErrCodeUnavailable     = "E_UNAVAILABLE"
)
