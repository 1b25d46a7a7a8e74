package models

import "sort"

// Batch is everything one projection run commits in a single transaction.
type Batch struct {
	RunID        string
	Destinations map[string]Destination
	Rows         map[string][]Row
	Ledger       []LedgerEntry
	Rejects      []QuarantineRecord
	Filtered     map[string]int
}

// NewBatch returns an empty batch for the given run.
func NewBatch(runID string) *Batch {
	return &Batch{
		RunID:        runID,
		Destinations: map[string]Destination{},
		Rows:         map[string][]Row{},
		Filtered:     map[string]int{},
	}
}

// Kinds returns the kinds that have rows, sorted so inserts run in a stable order.
func (b *Batch) Kinds() []string {
	kinds := make([]string, 0, len(b.Rows))
	for k, rows := range b.Rows {
		if len(rows) > 0 {
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	return kinds
}

// Empty reports whether committing the batch would write nothing.
func (b *Batch) Empty() bool {
	return len(b.Kinds()) == 0 && len(b.Ledger) == 0 && len(b.Rejects) == 0
}

// RowCount is the number of staging rows across all kinds.
func (b *Batch) RowCount() int {
	n := 0
	for _, rows := range b.Rows {
		n += len(rows)
	}
	return n
}
