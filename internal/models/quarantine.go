package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Quarantine stages.
const (
	StageFetch      = "fetch"
	StageProjection = "projection"
)

// Reasons shared across stages.
const (
	ReasonInvalidDate    = "Invalid date"
	ReasonInvalidJSON    = "Invalid JSON"
	ReasonMissingKeys    = "Missing required keys"
	ReasonInvalidRecord  = "Invalid record"
	ReasonMappingFailure = "Mapping error"
)

// QuarantineRecord is a write-once record of something that failed validation.
// Fetch-stage records reference Source/Line; projection-stage records
// reference SourceEventID.
type QuarantineRecord struct {
	Stage         string          `json:"stage"`
	Source        string          `json:"source,omitempty"`
	Line          int             `json:"line,omitempty"`
	SourceEventID int64           `json:"source_event_id,omitempty"`
	Kind          string          `json:"event_type,omitempty"`
	RawTimestamp  string          `json:"raw_timestamp,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Raw           string          `json:"raw,omitempty"`
	Reason        string          `json:"reason"`
	Detail        string          `json:"detail,omitempty"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

// Fingerprint identifies the offending input so a sink can ignore a record
// it already holds (e.g. a same-day file fetched twice).
func (q QuarantineRecord) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(q.Stage))
	h.Write([]byte{0})
	h.Write([]byte(q.Source))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(q.Line)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(q.SourceEventID, 10)))
	h.Write([]byte{0})
	h.Write([]byte(q.Raw))
	return hex.EncodeToString(h.Sum(nil))
}
