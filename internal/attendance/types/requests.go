package types

import "github.com/attendly/server/internal/attendance/zone"

// QRScanRequest comes from a QR scanner or an officer's handheld. Either the
// location or a registered scanner must be given.
type QRScanRequest struct {
	Code       string `json:"code"`
	LocationID string `json:"location_id,omitempty" validate:"required_without=ScannerID"`
	ScannerID  string `json:"scanner_id,omitempty"`
	OfficerID  string `json:"officer_id,omitempty"`
	ScannedAt  string `json:"scanned_at,omitempty" validate:"omitempty,timestamp"` // optional device timestamp
}

type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width" validate:"gt=0"`
	Height float64 `json:"height" validate:"gt=0"`
}

type Zone struct {
	Type   string       `json:"type" validate:"required,zonekind"`
	Points []zone.Point `json:"points" validate:"min=3"`
}

type Face struct {
	Box          Box     `json:"box"`
	Confidence   float64 `json:"confidence" validate:"gte=0,lte=1"`
	EmbeddingRef string  `json:"embedding_ref" validate:"required"`
}

// FaceDetectionRequest carries either one face inline or a whole frame in
// Faces. Both forms may be combined; the inline face comes first.
type FaceDetectionRequest struct {
	CameraID  string `json:"camera_id" validate:"required"`
	Timestamp string `json:"timestamp,omitempty" validate:"omitempty,timestamp"`
	Zones     []Zone `json:"zones,omitempty" validate:"dive"`

	Box          *Box    `json:"box,omitempty" validate:"required_without=Faces"`
	Confidence   float64 `json:"confidence,omitempty" validate:"gte=0,lte=1"`
	EmbeddingRef string  `json:"embedding_ref,omitempty" validate:"required_with=Box"`

	Faces []Face `json:"faces,omitempty" validate:"max=64,dive"`
}

type CheckOutRequest struct {
	RecorderID string `json:"recorder_id,omitempty"`
	At         string `json:"at,omitempty" validate:"omitempty,timestamp"`
}

type RevokeRequest struct {
	Note string `json:"note,omitempty" validate:"max=500"`
}

type StatusMark struct {
	PersonID string `json:"person_id" validate:"required"`
	Status   string `json:"status" validate:"required,oneof=PRESENT LATE ABSENT EXCUSED"`
	Note     string `json:"note,omitempty" validate:"max=500"`
}

type StatusesRequest struct {
	Marks []StatusMark `json:"marks" validate:"required,min=1,max=1000,dive"`
}
