package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/store"
)

type DeviceStore struct {
	mu      sync.RWMutex
	devices map[domain.DeviceID]domain.Device
}

var _ store.DeviceStore = (*DeviceStore)(nil)

func NewDeviceStore(devices ...domain.Device) *DeviceStore {
	m := make(map[domain.DeviceID]domain.Device, len(devices))
	for _, d := range devices {
		d.ID = domain.DeviceID(strings.TrimSpace(string(d.ID)))
		if d.ID != "" {
			m[d.ID] = d
		}
	}
	return &DeviceStore{devices: m}
}

func (s *DeviceStore) Device(_ context.Context, id domain.DeviceID) (domain.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return domain.Device{}, store.ErrNotFound
	}
	return d, nil
}

func (s *DeviceStore) PutDevice(_ context.Context, d domain.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = d
	return nil
}

func (s *DeviceStore) MarkSeen(_ context.Context, id domain.DeviceID, t time.Time) error {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.devices[id]; ok {
		d.LastSeen = t
		s.devices[id] = d
	}
	return nil
}
