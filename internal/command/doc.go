// Package command persists the durable side of command correlation.
//
// Every dispatched device command gets a Record keyed by correlation ID.
// Live correlation (the pending map and timers) happens in the gateway;
// this package only mirrors outcomes to SQLite so operators can answer
// "what happened to that unlock?" after the fact.
//
// Finalization is guarded at the SQL level: Finalize only touches rows
// still in 'pending', so a response and a timeout racing for the same
// record cannot both win. Records orphaned by a restart are swept to
// 'unknown' by ReconcileStale.
package command
