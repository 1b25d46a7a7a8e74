package ingest

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PratikDhanave/event-projector/internal/eventtime"
	"github.com/PratikDhanave/event-projector/internal/models"
)

// datedName matches "YYYY-MM-DD<ext>" file names.
func datedName(ext string) *regexp.Regexp {
	return regexp.MustCompile(`^\d{4}-\d{2}-\d{2}` + regexp.QuoteMeta(ext) + `$`)
}

// SelectFiles keeps the dated file names whose date is on or after minDate
// (all of them when minDate is nil), in ascending date order. Names that look
// dated but are not real dates are skipped.
func SelectFiles(names []string, ext string, minDate *time.Time) []string {
	pattern := datedName(ext)

	type candidate struct {
		name string
		date time.Time
	}
	var picked []candidate
	for _, n := range names {
		if !pattern.MatchString(n) {
			continue
		}
		d, err := eventtime.ParseDate(strings.TrimSuffix(n, ext))
		if err != nil {
			continue
		}
		// Inclusive: the watermark's own day may hold events not yet ingested.
		if minDate != nil && d.Before(*minDate) {
			continue
		}
		picked = append(picked, candidate{name: n, date: d})
	}

	sort.SliceStable(picked, func(i, j int) bool { return picked[i].date.Before(picked[j].date) })

	out := make([]string, len(picked))
	for i, c := range picked {
		out[i] = c.name
	}
	return out
}

// AfterWatermark keeps events strictly newer than watermark, preserving order.
// With no watermark every event is kept.
func AfterWatermark(events []models.Event, watermark time.Time, hasWatermark bool) ([]models.Event, int) {
	if !hasWatermark {
		return events, 0
	}
	kept := events[:0:0]
	stale := 0
	for _, e := range events {
		if e.Timestamp.After(watermark) {
			kept = append(kept, e)
			continue
		}
		stale++
	}
	return kept, stale
}
