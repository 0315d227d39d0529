// Package wsserver is the WebSocket transport loop driving pkg/session:
// it upgrades HTTP connections, enforces bearer-token admission at
// upgrade time when configured, decodes and dispatches NIP-01 wire
// frames (EVENT/REQ/CLOSE/AUTH) to a Session, and fans a session's
// outbound deliveries back out over the socket with a bounded queue so a
// slow reader cannot stall the broadcast loop.
package wsserver
