package model

import "time"

type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionFinished SessionStatus = "finished"
)

// Session is one occupancy period of a media room, from room start to room
// end. TotalParticipants is a high-water mark and never decreases;
// ActiveParticipants tracks the current live count and drops to zero when the
// session finishes.
type Session struct {
	SID                string
	RoomName           string
	Status             SessionStatus
	StartTime          time.Time
	EndTime            *time.Time
	DurationSeconds    int
	TotalParticipants  int
	ActiveParticipants int
	ProjectID          *string
	CreatedAt          time.Time
}

// Egress is one recording or streaming output job bound to a room.
type Egress struct {
	ID         string
	Name       string
	EgressType string
	RoomName   string
	OutputType string
	OutputURL  string
	IsActive   bool
	ProjectID  *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Ingress is a configured inbound stream endpoint. Rows are treated as
// persistent configuration: once stored, only the freshness timestamp moves.
type Ingress struct {
	ID        string
	Name      string
	InputType string
	RoomName  string
	StreamKey string
	URL       string
	IsEnabled bool
	ProjectID *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SessionPage struct {
	Sessions []Session
	Total    int
	Page     int
	Limit    int
}

type AnalyticsSummary struct {
	ActiveRooms       int
	TotalParticipants int
}

type DashboardStats struct {
	TotalSessions      int
	AvgParticipants    float64
	AvgDurationSeconds float64
	Platforms          map[string]int
}

type TimeseriesPoint struct {
	Bucket            time.Time
	ActiveRooms       int
	TotalParticipants int
}
