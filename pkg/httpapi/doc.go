// Package httpapi is the relay's REST mailbox surface: KeyPackage and
// Welcome submission/fetch/ack, missed-message catch-up, and the
// operational endpoints (/health, /ready, /live, /metrics). It is the
// out-of-band companion to the WebSocket transport in pkg/wsserver — the
// same events still flow through the Nostr wire protocol, but offline
// recipients poll this surface instead of holding a REQ subscription open.
//
// Every /api/v1/* route requires bearer authentication; /health is always
// open (health probes shouldn't need credentials), and /metrics requires
// bearer authentication per the documented operational contract.
package httpapi
