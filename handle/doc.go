// Package handle provides generation-checked handle tables and single-release guards.
//
// Native runtime objects (values, value maps, configurations, predictors and
// predictions) are never passed around as raw pointers. Runtimes store them in a
// Table and hand out a Handle; owners wrap handles in a Guard so that they are
// released exactly once.
//
// # Handle Layout
//
// A Handle packs a slot index and a generation:
//
//	 63            32 31             0
//	┌────────────────┬────────────────┐
//	│   generation   │   index + 1    │
//	└────────────────┴────────────────┘
//
// Handle 0 is reserved and always invalid. Removing an entry bumps the slot's
// generation, so a stale handle that names a reused slot is rejected instead of
// silently aliasing the new occupant.
//
// # Table
//
//	table := handle.NewTable[*predictor]()
//
//	h, err := table.Insert(p)
//	p, ok := table.Get(h)
//	p, ok = table.Remove(h) // h is now stale
//
// # Guard
//
//	var g handle.Guard
//	err := g.Release(func() error { return rt.PredictorRelease(h) })
//	err = g.Release(...) // invalid_operation: already released
//
// Tables are safe for concurrent use. Values implementing Dropper are dropped
// when they are still present at Close.
package handle
