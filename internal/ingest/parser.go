package ingest

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/PratikDhanave/event-projector/internal/eventtime"
	"github.com/PratikDhanave/event-projector/internal/models"
)

// rawEventSchema is the structural contract of one line of an event file.
const rawEventSchema = `{
  "type": "object",
  "required": ["timestamp", "event_type", "payload"],
  "properties": {
    "timestamp":  {"type": "string"},
    "event_type": {"type": "string", "minLength": 1},
    "payload":    {"type": "object"}
  }
}`

var rawEvent = jsonschema.MustCompileString("raw_event.json", rawEventSchema)

type rawLine struct {
	Timestamp string          `json:"timestamp"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// Parser turns event file lines into events or quarantine records.
type Parser struct {
	now func() time.Time
}

// NewParser creates a line parser.
func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// ParseLine parses one non-blank line. Exactly one of the results is non-nil.
func (p *Parser) ParseLine(source string, lineNo int, line []byte) (*models.Event, *models.QuarantineRecord) {
	reject := func(reason, detail string) *models.QuarantineRecord {
		return &models.QuarantineRecord{
			Stage:      models.StageFetch,
			Source:     source,
			Line:       lineNo,
			Raw:        string(line),
			Reason:     reason,
			Detail:     detail,
			RecordedAt: p.now().UTC(),
		}
	}

	doc, err := decodeLine(line)
	if err != nil {
		return nil, reject(models.ReasonInvalidJSON, err.Error())
	}
	if err := rawEvent.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) && missingRequired(ve) {
			return nil, reject(models.ReasonMissingKeys, ve.Error())
		}
		return nil, reject(models.ReasonInvalidRecord, err.Error())
	}

	var rl rawLine
	if err := json.Unmarshal(line, &rl); err != nil {
		return nil, reject(models.ReasonInvalidRecord, err.Error())
	}

	ts, err := eventtime.Parse(rl.Timestamp)
	if err != nil {
		rec := reject(models.ReasonInvalidDate, "")
		rec.Kind = rl.EventType
		rec.RawTimestamp = rl.Timestamp
		rec.Payload = rl.Payload
		return nil, rec
	}

	return &models.Event{
		Timestamp: ts,
		Kind:      rl.EventType,
		Payload:   rl.Payload,
	}, nil
}

// decodeLine decodes exactly one JSON value. Numbers stay json.Number so
// magnitudes beyond float64 are not rejected as malformed.
func decodeLine(line []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}
	return doc, nil
}

func missingRequired(ve *jsonschema.ValidationError) bool {
	if strings.HasSuffix(ve.KeywordLocation, "/required") {
		return true
	}
	for _, c := range ve.Causes {
		if missingRequired(c) {
			return true
		}
	}
	return false
}
