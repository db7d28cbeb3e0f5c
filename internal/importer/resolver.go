package importer

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Lookup performs one batched existence read for a natural-key category,
// returning a map from key to internal identifier. Keys not found are
// simply absent from the map; their absence is a row-validation concern,
// not a resolver error.
type Lookup interface {
	FindManyByKeys(ctx context.Context, keys []string) (map[string]string, error)
}

// Resolver builds a job's LookupCache. Each category is resolved with a
// single batched call, so resolution cost is O(distinct keys), not O(rows).
// Categories are independent reads and run concurrently.
type Resolver struct {
	Stations Lookup
	Officers Lookup
	Cases    Lookup
	Persons  Lookup
}

// Resolve de-duplicates the requested keys per category and fetches all
// categories concurrently. The returned cache always has all maps allocated,
// even for categories with no requested keys.
func (r *Resolver) Resolve(ctx context.Context, keys KeySet) (*LookupCache, error) {
	cache := NewLookupCache()

	g, gctx := errgroup.WithContext(ctx)

	resolve := func(name string, lookup Lookup, requested []string, dst map[string]string) {
		requested = dedupe(requested)
		if len(requested) == 0 {
			return
		}
		g.Go(func() error {
			found, err := lookup.FindManyByKeys(gctx, requested)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", name, err)
			}
			// Each goroutine writes to its own map; no locking needed.
			for k, id := range found {
				dst[k] = id
			}
			return nil
		})
	}

	resolve("stations", r.Stations, keys.StationCodes, cache.Stations)
	resolve("officers", r.Officers, keys.OfficerBadges, cache.Officers)
	resolve("cases", r.Cases, keys.CaseNumbers, cache.Cases)
	resolve("persons", r.Persons, keys.PersonNINs, cache.Persons)

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cache, nil
}

// dedupe returns the distinct non-empty keys, preserving first-seen order.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	result := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		result = append(result, k)
	}
	return result
}
