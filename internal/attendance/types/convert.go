package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/service"
	"github.com/attendly/server/internal/attendance/tracker"
	"github.com/attendly/server/internal/attendance/zone"
)

// ParseTimestamp parses a device-reported RFC 3339 timestamp into UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// optionalTime returns the zero time for empty or unparseable input; the
// engine then uses its own clock.
func optionalTime(s string) time.Time {
	if strings.TrimSpace(s) == "" {
		return time.Time{}
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (r QRScanRequest) Scan() service.QRScan {
	return service.QRScan{
		Code:       strings.TrimSpace(r.Code),
		LocationID: domain.LocationID(strings.TrimSpace(r.LocationID)),
		ScannerID:  domain.DeviceID(strings.TrimSpace(r.ScannerID)),
		OfficerID:  strings.TrimSpace(r.OfficerID),
		ScannedAt:  optionalTime(r.ScannedAt),
	}
}

// Frame converts the request into one frame. Zones that fail validation
// are reported as domain.ErrMalformedPolygon.
func (r FaceDetectionRequest) Frame() (service.FaceFrame, error) {
	zones, err := Polygons(r.Zones)
	if err != nil {
		return service.FaceFrame{}, err
	}
	frame := service.FaceFrame{
		CameraID:   domain.DeviceID(strings.TrimSpace(r.CameraID)),
		Zones:      zones,
		DetectedAt: optionalTime(r.Timestamp),
		Faces:      make([]service.DetectedFace, 0, len(r.Faces)+1),
	}
	if r.Box != nil {
		frame.Faces = append(frame.Faces, service.DetectedFace{
			Box: r.Box.bounds(), Confidence: r.Confidence, EmbeddingRef: r.EmbeddingRef,
		})
	}
	for _, f := range r.Faces {
		frame.Faces = append(frame.Faces, service.DetectedFace{
			Box: f.Box.bounds(), Confidence: f.Confidence, EmbeddingRef: f.EmbeddingRef,
		})
	}
	return frame, nil
}

func Polygons(in []Zone) ([]zone.Polygon, error) {
	out := make([]zone.Polygon, 0, len(in))
	for i, z := range in {
		kind, err := zone.ParseKind(z.Type)
		if err != nil {
			return nil, fmt.Errorf("zone %d: %w (%v)", i, domain.ErrMalformedPolygon, err)
		}
		p := zone.Polygon{Kind: kind, Points: z.Points}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("zone %d: %w (%v)", i, domain.ErrMalformedPolygon, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (b Box) bounds() zone.BoundingBox {
	return zone.BoundingBox{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}
}

func (r StatusesRequest) StatusMarks() []service.StatusMark {
	out := make([]service.StatusMark, len(r.Marks))
	for i, m := range r.Marks {
		out[i] = service.StatusMark{
			PersonID: domain.PersonID(strings.TrimSpace(m.PersonID)),
			Status:   domain.Status(m.Status),
			Note:     m.Note,
		}
	}
	return out
}

// Time returns the requested check-out time, or the zero time when the
// caller left it to the server clock.
func (r CheckOutRequest) Time() (time.Time, error) {
	if strings.TrimSpace(r.At) == "" {
		return time.Time{}, nil
	}
	t, err := ParseTimestamp(r.At)
	if err != nil {
		return time.Time{}, fmt.Errorf("at %q: %w", r.At, domain.ErrMalformedTimestamp)
	}
	return t, nil
}

func NewRecord(r domain.AttendanceRecord) Record {
	out := Record{
		ID:          r.ID,
		SessionID:   string(r.Key.SessionID),
		SessionDate: r.Key.Date.String(),
		ActivityID:  string(r.ActivityID),
		PersonID:    string(r.PersonID),
		Status:      string(r.Status),
		CheckInTime: formatTime(r.CheckInAt),
		RecorderID:  r.RecorderID,
		Note:        r.Note,

		CheckOutRecorderID: r.CheckOutRecorderID,
	}
	if r.CheckOutAt != nil {
		out.CheckOutTime = formatTime(*r.CheckOutAt)
	}
	if r.RevokedAt != nil {
		out.RevokedAt = formatTime(*r.RevokedAt)
	}
	return out
}

func NewOutcome(o domain.Outcome) Outcome {
	out := Outcome{
		Status:      string(o.Status),
		Reason:      o.Reason,
		Source:      string(o.Source),
		DeviceID:    string(o.DeviceID),
		PersonID:    string(o.PersonID),
		CheckInTime: formatTime(o.CheckInAt),
	}
	if !o.Key.IsZero() {
		out.SessionID = string(o.Key.SessionID)
		out.SessionDate = o.Key.Date.String()
	}
	if o.Record != nil {
		rec := NewRecord(*o.Record)
		out.Record = &rec
	}
	return out
}

func NewFaceOutcomes(outcomes []domain.Outcome) FaceOutcomes {
	out := FaceOutcomes{Outcomes: make([]Outcome, len(outcomes))}
	for i, o := range outcomes {
		out.Outcomes[i] = NewOutcome(o)
	}
	return out
}

func NewBulkResponse(key domain.SessionKey, results []service.ItemResult) BulkResponse {
	out := BulkResponse{
		SessionID:   string(key.SessionID),
		SessionDate: key.Date.String(),
		Results:     make([]ItemResult, len(results)),
	}
	for i, r := range results {
		item := ItemResult{PersonID: string(r.PersonID), Status: string(r.Status)}
		if r.Err != nil {
			item.Error = r.Err.Error()
		}
		if r.Record != nil {
			rec := NewRecord(*r.Record)
			item.Record = &rec
		}
		out.Results[i] = item
	}
	return out
}

func NewSummary(s service.Summary) Summary {
	return Summary{
		SessionID:   string(s.Key.SessionID),
		SessionDate: s.Key.Date.String(),
		Enrolled:    s.Enrolled,
		Present:     s.Present,
		Late:        s.Late,
		Absent:      s.Absent,
		Excused:     s.Excused,
		Unrecorded:  s.Unrecorded,
		Rate:        s.Rate,
	}
}

func NewLiveSessions(snaps []tracker.Snapshot) LiveSessions {
	out := LiveSessions{Sessions: make([]LiveSession, len(snaps))}
	for i, s := range snaps {
		out.Sessions[i] = LiveSession{
			SessionID:   string(s.Key.SessionID),
			SessionDate: s.Key.Date.String(),
			Count:       s.Count,
			OpenedAt:    formatTime(s.OpenedAt),
			ExpiresAt:   formatTime(s.ExpiresAt),
		}
	}
	return out
}
