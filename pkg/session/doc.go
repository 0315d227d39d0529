/*
Package session implements the relay's per-connection state machine,
transport-independent: it owns authentication state, the session's
subscription set (via the subscription registry), and the event/REQ
admission logic, leaving socket I/O to pkg/wsserver.

# States

	opening -> challenge-issued -> authenticated | closed

A Session starts in challenge-issued (NewSession immediately issues a
nonce the caller must send as an AUTH challenge frame). HandleAuth
transitions to authenticated on a valid kind-22242 response; later AUTH
frames may re-authenticate under a different key within the same
session.

# Event and REQ admission

HandleEvent runs the extension chain over an inbound EVENT, commits
whatever the chain decides should be stored, deletes anything it
consumed, and publishes newly committed events to the subscription
registry for fanout. HandleReq gives the extension chain first refusal
(an extension may fully answer a REQ from a secondary store without
ever touching the primary Event Store); otherwise it queries the Event
Store directly and arms the subscription for future fanout.
*/
package session
