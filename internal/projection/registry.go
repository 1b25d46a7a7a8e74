// Package projection maps log events onto typed staging rows.
//
// Each supported event type is one Kind registered in a Registry. The Router
// selects unprojected events, transforms them per kind in parallel and hands
// one models.Batch to the writer.
package projection

import (
	"errors"
	"fmt"
	"sort"

	"github.com/PratikDhanave/event-projector/internal/models"
)

// ErrDuplicateKind is returned when a tag is registered twice.
var ErrDuplicateKind = errors.New("kind already registered")

// Registry maps event type tags to kinds.
type Registry struct {
	kinds map[string]*Kind
}

func NewRegistry() *Registry {
	return &Registry{kinds: map[string]*Kind{}}
}

// Register adds a kind. Existing kinds are never replaced.
func (r *Registry) Register(k Kind) error {
	if err := k.validate(); err != nil {
		return err
	}
	if _, ok := r.kinds[k.Tag]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, k.Tag)
	}
	r.kinds[k.Tag] = &k
	return nil
}

func (r *Registry) Lookup(tag string) (*Kind, bool) {
	k, ok := r.kinds[tag]
	return k, ok
}

// Kinds returns the registered kinds sorted by tag.
func (r *Registry) Kinds() []*Kind {
	out := make([]*Kind, 0, len(r.kinds))
	for _, k := range r.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

// Destinations returns one destination per kind, sorted by tag.
func (r *Registry) Destinations() []models.Destination {
	kinds := r.Kinds()
	out := make([]models.Destination, len(kinds))
	for i, k := range kinds {
		out[i] = k.Destination()
	}
	return out
}

// Options tunes the built-in kinds.
type Options struct {
	// SOPDisallowedPrefixes excludes S&OP snapshot rows by product_id prefix.
	SOPDisallowedPrefixes []string
}

// DefaultRegistry registers every supported event type.
func DefaultRegistry(opts Options) (*Registry, error) {
	r := NewRegistry()
	kinds := []Kind{
		orderKind(),
		backorderKind(),
		shipmentKind(),
		invoiceKind(),
		paymentKind(),
		loadKind(),
		deliveryEventKind(),
		purchaseOrderKind(),
		poReceiptKind(),
		reorderKind(),
		productionJobKind(),
		productionStartKind(),
		productionCompletionKind(),
		demandForecastKind(),
		sopSnapshotKind(opts.SOPDisallowedPrefixes),
	}
	for _, k := range kinds {
		if err := r.Register(k); err != nil {
			return nil, err
		}
	}
	return r, nil
}
