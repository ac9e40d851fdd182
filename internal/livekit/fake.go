package livekit

import (
	"context"
	"sync"
)

// FakeClient serves canned live state. Used for local development without a
// media server and as a test double for the reconciler.
type FakeClient struct {
	mu        sync.Mutex
	rooms     []Room
	egresses  []EgressInfo
	ingresses []IngressInfo

	RoomsErr   error
	EgressErr  error
	IngressErr error
}

func NewFakeClient() *FakeClient {
	return &FakeClient{}
}

func (f *FakeClient) SetRooms(rooms []Room) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append([]Room(nil), rooms...)
}

func (f *FakeClient) SetEgresses(egresses []EgressInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.egresses = append([]EgressInfo(nil), egresses...)
}

func (f *FakeClient) SetIngresses(ingresses []IngressInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingresses = append([]IngressInfo(nil), ingresses...)
}

func (f *FakeClient) ListRooms(_ context.Context) ([]Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RoomsErr != nil {
		return nil, f.RoomsErr
	}
	return append([]Room(nil), f.rooms...), nil
}

func (f *FakeClient) ListEgress(_ context.Context) ([]EgressInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EgressErr != nil {
		return nil, f.EgressErr
	}
	return append([]EgressInfo(nil), f.egresses...), nil
}

func (f *FakeClient) ListIngress(_ context.Context) ([]IngressInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IngressErr != nil {
		return nil, f.IngressErr
	}
	return append([]IngressInfo(nil), f.ingresses...), nil
}
