/*
Package scheduler runs the relay's background maintenance for the MLS
gateway extension: sweeping expired KeyPackages and Welcomes, and
re-checking pending deletions that the gateway scheduled while handling
live traffic.

# Why deletions are deferred

The gateway never deletes a KeyPackage or Welcome synchronously when a
prune or last-resort transition is triggered by an inbound event or
REQ. Doing so inline would couple ingest latency to housekeeping and
risk deleting a record that a concurrent request is about to consume.
Instead the gateway records a pending deletion with a due time, and
this package re-validates and applies it later:

	┌──────────────────────────────────────────────────────────┐
	│  Gateway observes overflow or a last-resort supersession  │
	│  -> SchedulePendingDeletion(owner, kind, oldEventID, due)  │
	└────────────────────────┬───────────────────────────────────┘
	                         │
	                         ▼
	┌──────────────────────────────────────────────────────────┐
	│  Scheduler: runPendingDeletionLoop ticks every             │
	│  pruning_check_interval_seconds                            │
	│  -> re-check owner's current pool state                    │
	│  -> apply deletion only if still safe                      │
	│  -> clear the pending deletion record                      │
	└────────────────────────────────────────────────────────────┘

A second, independent loop sweeps expired KeyPackages and Welcomes on
an hourly cadence, catching records whose TTL lapsed without ever
triggering a pending-deletion path (e.g. an owner who never requests a
fresh supply).

# Usage

	sched := scheduler.NewScheduler(auxStore, cfg.Extensions.MLSGateway)
	sched.Start()
	defer sched.Stop()

Both loops are independent goroutines; Stop closes a single stop
channel they both select on.
*/
package scheduler
