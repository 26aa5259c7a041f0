// Package worker provides the background janitor that keeps a hexflow
// session store tidy.
//
// The router never deletes or expires sessions on its own. A Janitor runs
// outside the request path, either as the "hexflow janitor" command or
// embedded next to the HTTP server, and performs two passes:
//
//   - Expire: sessions created more than RetentionDays ago are removed.
//   - Abandon: in-progress sessions that have not been touched for
//     AbandonAfter are marked abandoned. A later submission from a step
//     application moves them back to in progress.
//
// Both passes work against any persistence.SessionStore, so the same janitor
// serves the in-memory, SQLite, Postgres, Redis and MongoDB backends.
// Several janitors may run against one store; the abandon pass relies on
// the store's optimistic versioning and skips sessions that changed under
// it.
//
// # Usage
//
//	j := worker.NewJanitor(store, worker.Config{
//		RetentionDays: 30,
//		AbandonAfter:  24 * time.Hour,
//		Interval:      time.Hour,
//	}, logger)
//	go j.Run(ctx)
package worker
