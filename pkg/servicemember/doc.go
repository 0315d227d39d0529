/*
Package servicemember implements the relay's in-process MLS "service
member": the identity that sits inside each admin group it manages,
decrypts control-plane messages addressed to it, and dispatches them to
profile handlers.

# Gating

HasGroupLoaded is the authoritative, constant-time membership check
described by the gateway's ServiceDispatcher contract: the dispatcher
never attempts a decrypt for a group it has not loaded into its
in-memory MLS state, regardless of any auxiliary-store registry hint.

# Rotation profile

The first (and so far only) profile is versioned secret rotation:

	prepare  -> generate secret, MAC-sign, record SecretVersion(pending)
	notify   -> encrypt a notify payload to the admin group, emit kind-445
	ack      -> accumulate acks toward the profile's quorum
	promote  -> on quorum, flip current/previous pointers transactionally

Each phase is grounded in spec.md's rotation-profile description and
journals its progress via the auxiliary store's ServiceAction record so
that duplicate action identifiers are idempotent no-ops rather than
re-executed side effects.

# External boundaries

Two collaborators are modeled as injected interfaces rather than
concrete implementations, since both are explicitly out of scope: an
MLSDecrypter (the OpenMLS capability) and a security.MACSigner (the
external KMS). Both must be supplied by the caller constructing a
Dispatcher.
*/
package servicemember
