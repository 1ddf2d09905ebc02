package types

type Record struct {
	ID           string `json:"record_id"`
	SessionID    string `json:"session_id"`
	SessionDate  string `json:"session_date"`
	ActivityID   string `json:"activity_id"`
	PersonID     string `json:"person_id"`
	Status       string `json:"status"`
	CheckInTime  string `json:"check_in_time"`
	CheckOutTime string `json:"check_out_time,omitempty"`
	RecorderID   string `json:"recorder_id,omitempty"`
	Note         string `json:"note,omitempty"`
	RevokedAt    string `json:"revoked_at,omitempty"`

	CheckOutRecorderID string `json:"check_out_recorder_id,omitempty"`
}

type Outcome struct {
	Status      string  `json:"status"`
	Reason      string  `json:"reason,omitempty"`
	Source      string  `json:"source"`
	DeviceID    string  `json:"device_id,omitempty"`
	SessionID   string  `json:"session_id,omitempty"`
	SessionDate string  `json:"session_date,omitempty"`
	PersonID    string  `json:"person_id,omitempty"`
	CheckInTime string  `json:"check_in_time,omitempty"`
	Record      *Record `json:"record,omitempty"`
}

type FaceOutcomes struct {
	Outcomes []Outcome `json:"outcomes"`
}

type CheckOutResponse struct {
	Status string `json:"status"`
	Record Record `json:"record"`
}

type ItemResult struct {
	PersonID string  `json:"person_id"`
	Status   string  `json:"status"`
	Error    string  `json:"error,omitempty"`
	Record   *Record `json:"record,omitempty"`
}

type BulkResponse struct {
	SessionID   string       `json:"session_id"`
	SessionDate string       `json:"session_date"`
	Results     []ItemResult `json:"results"`
}

type Summary struct {
	SessionID   string  `json:"session_id"`
	SessionDate string  `json:"session_date"`
	Enrolled    int     `json:"enrolled"`
	Present     int     `json:"present"`
	Late        int     `json:"late"`
	Absent      int     `json:"absent"`
	Excused     int     `json:"excused"`
	Unrecorded  int     `json:"unrecorded"`
	Rate        float64 `json:"attendance_rate"`
}

type CodeValidation struct {
	Code       string `json:"code"`
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason,omitempty"`
	ActivityID string `json:"activity_id,omitempty"`
	PersonID   string `json:"person_id,omitempty"`
}

type LiveSession struct {
	SessionID   string `json:"session_id"`
	SessionDate string `json:"session_date"`
	Count       int64  `json:"count"`
	OpenedAt    string `json:"opened_at"`
	ExpiresAt   string `json:"expires_at"`
}

type LiveSessions struct {
	Sessions []LiveSession `json:"sessions"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
