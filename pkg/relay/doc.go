// Package relay is the top-level wiring for the process: it constructs
// the Event Store, Auxiliary Store, extension chain, subscription
// registry, pruning scheduler, in-process service member, and the
// WebSocket/REST transports, then owns their combined start/stop
// lifecycle. It is the non-Raft analogue of an orchestrator's top-level
// manager: one process, one set of collaborators, no cluster membership.
package relay
