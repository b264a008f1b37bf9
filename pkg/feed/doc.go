// Package feed reconciles a guest's message list for one event from two
// sources that race: keyset-paginated reads from durable storage and live
// change events arriving over the realtime transport.
//
// State transitions go through a pure reducer. Apply folds an Action
// (initial page, older page, live upsert, live delete) into an immutable
// State; merging is idempotent and order-independent, so a row that arrives
// both in a page and as a live event lands exactly once no matter which
// came first.
//
// Pagination uses a compound cursor of (created_at, id). The id tiebreak
// keeps pages stable when many rows share a timestamp, which a bare
// timestamp cursor cannot guarantee.
//
// Usage:
//
//	reader, err := feed.NewPgReader(pool)
//	if err != nil {
//		return err
//	}
//	f, err := feed.New(reader, "ev_123")
//	if err != nil {
//		return err
//	}
//	f.Observe(render)
//
//	teardown, err := f.Attach(mgr) // live updates
//	if err != nil {
//		return err
//	}
//	defer teardown()
//
//	if err := f.LoadInitial(ctx); err != nil {
//		return err
//	}
//	// later, as the user scrolls:
//	if err := f.LoadOlder(ctx); err != nil {
//		return err
//	}
package feed
