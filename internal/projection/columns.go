package projection

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/PratikDhanave/event-projector/internal/eventtime"
	"github.com/PratikDhanave/event-projector/internal/models"
)

// ColumnType is the staging type a payload value is coerced to.
type ColumnType int

const (
	Text ColumnType = iota
	UUID
	Int
	Decimal
	Bool
	Timestamp
	Date
	Code
	Document
)

func (t ColumnType) String() string {
	switch t {
	case Text:
		return "text"
	case UUID:
		return "uuid"
	case Int:
		return "int"
	case Decimal:
		return "decimal"
	case Bool:
		return "bool"
	case Timestamp:
		return "timestamp"
	case Date:
		return "date"
	case Code:
		return "code"
	case Document:
		return "document"
	default:
		return "unknown"
	}
}

// Column is one staging column filled from the payload, or from the event's
// own timestamp when EventTime is set.
type Column struct {
	Name      string
	Type      ColumnType
	Required  bool
	EventTime bool
	// Default is stored when an optional field is absent.
	Default any
	// Codes maps payload values to stored codes for Code columns.
	Codes map[string]string
}

func col(name string, t ColumnType) Column { return Column{Name: name, Type: t} }

func required(name string, t ColumnType) Column { return Column{Name: name, Type: t, Required: true} }

func eventTime(name string) Column { return Column{Name: name, Type: Timestamp, EventTime: true} }

func withDefault(name string, t ColumnType, def any) Column {
	return Column{Name: name, Type: t, Default: def}
}

func code(name string, codes map[string]string) Column {
	return Column{Name: name, Type: Code, Required: true, Codes: codes}
}

// ErrMapping is matched by every *MappingError.
var ErrMapping = errors.New("mapping error")

// MappingError reports a payload value that cannot be stored in its column.
type MappingError struct {
	Kind   string
	Field  string
	Value  any
	Reason string
	Err    error
}

func (e *MappingError) Error() string {
	msg := fmt.Sprintf("%s.%s: %s", e.Kind, e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value %v)", e.Value)
	}
	return msg
}

func (e *MappingError) Is(target error) bool { return target == ErrMapping }

func (e *MappingError) Unwrap() error { return e.Err }

var (
	errMissing   = errors.New("missing required field")
	errWrongType = errors.New("wrong type")
)

// coerce converts a decoded payload value to the column's storage value.
// present is false when the field is absent or JSON null.
func (c Column) coerce(v any, present bool) (any, error) {
	if !present {
		if c.Required {
			return nil, errMissing
		}
		return c.Default, nil
	}

	switch c.Type {
	case Text:
		switch x := v.(type) {
		case string:
			return x, nil
		case json.Number:
			return x.String(), nil
		}
		return nil, errWrongType

	case UUID:
		s, ok := v.(string)
		if !ok {
			return nil, errWrongType
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		return id.String(), nil

	case Int:
		return toInt(v)

	case Decimal:
		return toDecimal(v)

	case Bool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(x))
		}
		return nil, errWrongType

	case Timestamp:
		s, ok := v.(string)
		if !ok {
			return nil, eventtime.ErrInvalidDate
		}
		return eventtime.Parse(s)

	case Date:
		s, ok := v.(string)
		if !ok {
			return nil, eventtime.ErrInvalidDate
		}
		if d, err := eventtime.ParseDate(s); err == nil {
			return d, nil
		}
		t, err := eventtime.Parse(s)
		if err != nil {
			return nil, err
		}
		return eventtime.Date(t), nil

	case Code:
		s, ok := v.(string)
		if !ok {
			return nil, errWrongType
		}
		mapped, ok := c.Codes[s]
		if !ok {
			return nil, fmt.Errorf("unmapped code %q", s)
		}
		return mapped, nil

	case Document:
		return canonicalJSON(v)
	}
	return nil, fmt.Errorf("unsupported column type %s", c.Type)
}

func toInt(v any) (int64, error) {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
	default:
		return 0, errWrongType
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	// Integral floats such as 3.0 are accepted.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%s is not an integer", s)
	}
	return int64(f), nil
}

// toDecimal keeps the payload's decimal text so no precision is lost on the
// way to NUMERIC.
func toDecimal(v any) (string, error) {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
	default:
		return "", errWrongType
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%s is not a finite number", s)
	}
	return s, nil
}

// canonicalJSON encodes v per RFC 8785 so equal documents are byte-equal.
func canonicalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// mappingReason picks the quarantine reason for a coercion failure.
func mappingReason(c Column, err error) string {
	if errors.Is(err, eventtime.ErrInvalidDate) || c.Type == Timestamp || c.Type == Date {
		return models.ReasonInvalidDate
	}
	return models.ReasonMappingFailure
}
