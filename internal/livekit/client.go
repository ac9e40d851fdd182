// Package livekit queries the media server's control API. The reconciler
// treats it as the authoritative source for what is live right now.
package livekit

import "context"

// Room is one currently live room as reported by the media server.
type Room struct {
	SID             string `json:"sid"`
	Name            string `json:"name"`
	NumParticipants int    `json:"numParticipants"`
	CreationTime    int64  `json:"creationTime,string"`
}

type FileOutput struct {
	Location string `json:"location"`
}

type StreamOutput struct {
	URL string `json:"url"`
}

// EgressInfo is one currently active egress job. At most one of File and
// Stream carries the output destination.
type EgressInfo struct {
	EgressID string        `json:"egressId"`
	RoomName string        `json:"roomName"`
	Status   string        `json:"status"`
	File     *FileOutput   `json:"file,omitempty"`
	Stream   *StreamOutput `json:"stream,omitempty"`
}

// OutputURL returns the job's destination, preferring the file location over
// the stream URL. Empty when neither output is populated yet.
func (e EgressInfo) OutputURL() string {
	if e.File != nil && e.File.Location != "" {
		return e.File.Location
	}
	if e.Stream != nil && e.Stream.URL != "" {
		return e.Stream.URL
	}
	return ""
}

// IngressInfo is one configured inbound stream endpoint.
type IngressInfo struct {
	IngressID string `json:"ingressId"`
	Name      string `json:"name"`
	InputType string `json:"inputType"`
	RoomName  string `json:"roomName"`
	StreamKey string `json:"streamKey"`
	URL       string `json:"url"`
}

// Client is the query surface the reconciler depends on. All three lists may
// legitimately be empty; all three calls may fail without affecting callers
// beyond the failed pass.
type Client interface {
	ListRooms(ctx context.Context) ([]Room, error)
	ListEgress(ctx context.Context) ([]EgressInfo, error)
	ListIngress(ctx context.Context) ([]IngressInfo, error)
}
