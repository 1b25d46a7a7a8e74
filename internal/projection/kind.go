package projection

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/PratikDhanave/event-projector/internal/models"
)

const sourceEventIDColumn = "source_event_id"

// RowFilter reports whether a mapped row is excluded from its staging table.
type RowFilter func(models.Row) bool

// DisallowPrefix excludes rows whose text column starts with any prefix.
func DisallowPrefix(column string, prefixes ...string) RowFilter {
	return func(r models.Row) bool {
		s, ok := r[column].(string)
		if !ok {
			return false
		}
		for _, p := range prefixes {
			if p != "" && strings.HasPrefix(s, p) {
				return true
			}
		}
		return false
	}
}

// Kind maps one event type onto one staging table.
type Kind struct {
	Tag   string
	Table string
	// Key is the table's primary key column, for documentation and logs.
	Key     string
	Columns []Column
	// Renames maps payload field names to column names.
	Renames map[string]string
	// Drops lists payload fields that are known and deliberately not stored.
	Drops   []string
	Filters []RowFilter
}

// Destination describes where the kind's rows are inserted.
func (k *Kind) Destination() models.Destination {
	cols := make([]string, 0, len(k.Columns)+1)
	for _, c := range k.Columns {
		cols = append(cols, c.Name)
	}
	return models.Destination{
		Kind:    k.Tag,
		Table:   k.Table,
		Columns: append(cols, sourceEventIDColumn),
	}
}

func (k *Kind) validate() error {
	if k.Tag == "" || k.Table == "" {
		return fmt.Errorf("kind %q: tag and table are required", k.Tag)
	}
	seen := map[string]bool{sourceEventIDColumn: true}
	for _, c := range k.Columns {
		if c.Name == "" {
			return fmt.Errorf("kind %s: unnamed column", k.Tag)
		}
		if seen[c.Name] {
			return fmt.Errorf("kind %s: duplicate column %q", k.Tag, c.Name)
		}
		seen[c.Name] = true
		if c.Type == Code && len(c.Codes) == 0 {
			return fmt.Errorf("kind %s: code column %q has no codes", k.Tag, c.Name)
		}
	}
	if k.Key != "" && !seen[k.Key] {
		return fmt.Errorf("kind %s: key %q is not a column", k.Tag, k.Key)
	}
	renamed := map[string]string{}
	for from, to := range k.Renames {
		if !seen[to] {
			return fmt.Errorf("kind %s: rename %s -> %s targets no column", k.Tag, from, to)
		}
		if other, dup := renamed[to]; dup {
			return fmt.Errorf("kind %s: renames %s and %s both target %q", k.Tag, other, from, to)
		}
		renamed[to] = from
	}
	return nil
}

// Transform maps one event to a staging row. unmapped lists payload fields
// that are neither columns, renames nor drops.
func (k *Kind) Transform(ev models.Event) (row models.Row, unmapped []string, err error) {
	fields, err := decodePayload(ev.Payload)
	if err != nil {
		return nil, nil, &MappingError{Kind: k.Tag, Field: "payload", Reason: models.ReasonInvalidRecord, Err: err}
	}

	byColumn := make(map[string]any, len(fields))
	for name, v := range fields {
		if to, ok := k.Renames[name]; ok {
			// The column's own name wins over a legacy alias.
			if _, direct := fields[to]; !direct {
				byColumn[to] = v
			}
			continue
		}
		byColumn[name] = v
	}

	row = make(models.Row, len(k.Columns)+1)
	for _, c := range k.Columns {
		if c.EventTime {
			row[c.Name] = ev.Timestamp.UTC()
			continue
		}
		v, present := byColumn[c.Name]
		if v == nil {
			present = false
		}
		val, err := c.coerce(v, present)
		if err != nil {
			return nil, nil, &MappingError{Kind: k.Tag, Field: c.Name, Value: v, Reason: mappingReason(c, err), Err: err}
		}
		row[c.Name] = val
	}
	row[sourceEventIDColumn] = ev.ID

	for name := range fields {
		if k.known(name) {
			continue
		}
		unmapped = append(unmapped, name)
	}
	return row, unmapped, nil
}

// Filtered reports whether any row filter excludes r.
func (k *Kind) Filtered(r models.Row) bool {
	for _, f := range k.Filters {
		if f(r) {
			return true
		}
	}
	return false
}

func (k *Kind) known(field string) bool {
	if _, ok := k.Renames[field]; ok {
		return true
	}
	for _, d := range k.Drops {
		if d == field {
			return true
		}
	}
	for _, c := range k.Columns {
		if c.Name == field {
			return true
		}
	}
	return false
}

// decodePayload decodes a payload object keeping numbers as json.Number.
func decodePayload(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}
