// Package directory reconciles the platform organization into local departments and
// accounts.
//
// Engine.Sync walks the department tree below a scope and then the users, one page at a
// time. A new item is created; an existing one is skipped unless the sync is forced, in
// which case its mutable fields are rewritten. An item that fails is recorded in the Result
// and the run moves on. A failed page ends its category.
//
//	engine := directory.NewEngine(client, store.Accounts(), store.Departments(), directory.Config{}, logger, metrics)
//	result, err := engine.Sync(ctx, directory.Options{SyncDepartments: true, SyncUsers: true, TenantID: 1})
//
// Scheduler wraps an engine with a cron schedule, on-demand runs and a status endpoint.
// Only one run is in flight at a time.
package directory
