package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/store"
)

// CameraRegistry resolves cameras and QR scanners to their location and
// entry/exit zones.
type CameraRegistry struct {
	store store.DeviceStore
	now   func() time.Time
}

func NewCameraRegistry(st store.DeviceStore) *CameraRegistry {
	return &CameraRegistry{store: st, now: time.Now}
}

// Lookup returns an enabled device. Unknown and disabled devices are both
// ErrUnknownDevice.
func (r *CameraRegistry) Lookup(ctx context.Context, id domain.DeviceID) (domain.Device, error) {
	id = domain.DeviceID(strings.TrimSpace(string(id)))
	if id == "" {
		return domain.Device{}, domain.ErrUnknownDevice
	}
	d, err := r.store.Device(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Device{}, domain.ErrUnknownDevice
	}
	if err != nil {
		return domain.Device{}, fmt.Errorf("lookup device: %w", err)
	}
	if !d.Enabled {
		return domain.Device{}, domain.ErrUnknownDevice
	}
	return d, nil
}

func (r *CameraRegistry) NoteSeen(ctx context.Context, id domain.DeviceID) error {
	id = domain.DeviceID(strings.TrimSpace(string(id)))
	if id == "" {
		return nil
	}
	return r.store.MarkSeen(ctx, id, r.now().UTC())
}

// Register validates the device's zones and stores it.
func (r *CameraRegistry) Register(ctx context.Context, d domain.Device) error {
	if strings.TrimSpace(string(d.ID)) == "" || d.LocationID == "" {
		return fmt.Errorf("register device: id and location are required")
	}
	for i, z := range d.Zones {
		if err := z.Validate(); err != nil {
			return fmt.Errorf("zone %d: %w (%v)", i, domain.ErrMalformedPolygon, err)
		}
	}
	return r.store.PutDevice(ctx, d)
}
