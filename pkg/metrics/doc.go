// Package metrics defines and registers the relay's Prometheus series and
// exposes the process health/readiness/liveness endpoints, following the
// same package-level registration pattern and HTTP handlers used
// throughout the retrieval pack's services.
//
// Metrics fall into four groups: session/subscription gauges (active
// sessions, active subscriptions), event counters (ingested and rejected,
// labeled by kind and rejection reason), MLS gateway and rate-limit series
// (a KeyPackage pool size gauge per owner, KeyPackage request and roster
// sequence rejection counters, and rate-limit denials per bucket), and service-action
// counters (rotation profile transitions by outcome). A Timer helper times
// arbitrary operations and records them to a histogram or histogram vec.
package metrics
