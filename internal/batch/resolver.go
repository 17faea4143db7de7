package batch

import (
	"context"
	"fmt"

	"personetl/internal/storage"
)

// CityResolver maps normalized city names to surrogate ids, creating the
// dimension row on first sight. Ids are cached per transaction so repeated
// names in one source file cost one lookup.
type CityResolver struct {
	tx    storage.Tx
	cache map[string]int64
}

func NewCityResolver(tx storage.Tx) *CityResolver {
	return &CityResolver{tx: tx, cache: make(map[string]int64)}
}

// Resolve returns the ciudad_id for name, inserting the row if absent.
//
// The insert is conflict-tolerant against UNIQUE(nombre), then re-read, so
// repeated calls across runs (or racing callers) converge on one row.
func (r *CityResolver) Resolve(ctx context.Context, name string) (int64, error) {
	if id, ok := r.cache[name]; ok {
		return id, nil
	}

	id, ok, err := r.tx.SelectCityID(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("select city %q: %w", name, err)
	}
	if !ok {
		if err := r.tx.InsertCityIfAbsent(ctx, name); err != nil {
			return 0, fmt.Errorf("insert city %q: %w", name, err)
		}
		id, ok, err = r.tx.SelectCityID(ctx, name)
		if err != nil {
			return 0, fmt.Errorf("reselect city %q: %w", name, err)
		}
		if !ok {
			return 0, fmt.Errorf("city %q not visible after insert", name)
		}
	}

	r.cache[name] = id
	return id, nil
}
