package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is an immutable Nostr event record.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Tag returns the first tag line whose name matches, or nil.
func (e *Event) Tag(name string) []string {
	for _, t := range e.Tags {
		if len(t) > 0 && t[0] == name {
			return t
		}
	}
	return nil
}

// TagValue returns the value (second element) of the first matching tag.
func (e *Event) TagValue(name string) string {
	t := e.Tag(name)
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// TagValues returns the values of every tag line matching name.
func (e *Event) TagValues(name string) []string {
	var vals []string
	for _, t := range e.Tags {
		if len(t) > 1 && t[0] == name {
			vals = append(vals, t[1])
		}
	}
	return vals
}

// Filter selects events for a subscription. Constraints within a filter
// are AND-combined; membership within a set-valued constraint is OR.
type Filter struct {
	IDs     []string            `json:"ids,omitempty"`
	Authors []string            `json:"authors,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Tags    map[string][]string `json:"-"` // single-char tag name -> values, e.g. "p" -> [...]
	Since   *int64              `json:"since,omitempty"`
	Until   *int64              `json:"until,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
}

// Matches reports whether the event satisfies every constraint in the filter.
func (f *Filter) Matches(e *Event) bool {
	if len(f.IDs) > 0 && !containsStr(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsStr(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, e.Kind) {
		return false
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	for name, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		have := e.TagValues(name)
		if !anyOverlap(have, values) {
			return false
		}
	}
	return true
}

// MarshalJSON renders tag constraints back onto "#<name>" wire keys
// alongside the fixed fields, matching the NIP-01 filter encoding.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(f.Tags)+6)
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	for name, values := range f.Tags {
		m["#"+name] = values
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts the fixed NIP-01 filter fields plus arbitrary
// "#<single-char-name>" tag constraints into Tags.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var fixed struct {
		IDs     []string `json:"ids"`
		Authors []string `json:"authors"`
		Kinds   []int    `json:"kinds"`
		Since   *int64   `json:"since"`
		Until   *int64   `json:"until"`
		Limit   int      `json:"limit"`
	}
	if err := json.Unmarshal(data, &fixed); err != nil {
		return err
	}

	f.IDs = fixed.IDs
	f.Authors = fixed.Authors
	f.Kinds = fixed.Kinds
	f.Since = fixed.Since
	f.Until = fixed.Until
	f.Limit = fixed.Limit
	f.Tags = nil

	for key, val := range raw {
		if !strings.HasPrefix(key, "#") || len(key) != 2 {
			continue
		}
		var values []string
		if err := json.Unmarshal(val, &values); err != nil {
			return fmt.Errorf("filter tag %s: %w", key, err)
		}
		if f.Tags == nil {
			f.Tags = make(map[string][]string)
		}
		f.Tags[key[1:]] = values
	}
	return nil
}

func containsStr(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func anyOverlap(have, want []string) bool {
	for _, h := range have {
		if containsStr(want, h) {
			return true
		}
	}
	return false
}

// Subscription is a per-session named set of OR-combined filters.
type Subscription struct {
	ID      string
	Filters []*Filter
}

// MatchesAny reports whether the event satisfies at least one filter.
func (s *Subscription) MatchesAny(e *Event) bool {
	for _, f := range s.Filters {
		if f.Matches(e) {
			return true
		}
	}
	return false
}

// AuthState is the session's authentication state.
type AuthState string

const (
	AuthStateChallengeIssued AuthState = "challenge-issued"
	AuthStateAuthenticated   AuthState = "authenticated"
)

// BearerClaims is the snapshot of a verified attestation bearer token.
type BearerClaims struct {
	Subject       string
	Audience      string
	Methods       []string
	ExpiresAt     time.Time
	IssuedAt      time.Time
	PubkeyBinding string // proof-of-possession: author pubkey this token is bound to
}

// Group is the auxiliary-store record for an MLS group.
type Group struct {
	ID            string            `json:"id"`
	Owner         string            `json:"owner"`
	DisplayName   string            `json:"display_name,omitempty"`
	Epoch         int64             `json:"epoch"`
	LastEventAt   int64             `json:"last_event_at"`
	RelayHints    []string          `json:"relay_hints,omitempty"`
	AdminKeys     []string          `json:"admin_keys,omitempty"`
	ServiceMember bool              `json:"service_member"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// KeyPackage is the auxiliary-store mailbox record for a kind-443 event.
type KeyPackage struct {
	EventID        string `json:"event_id"`
	Owner          string `json:"owner"`
	CreatedAt      int64  `json:"created_at"`
	PayloadB64     string `json:"payload_b64"`
	Ciphersuite    string `json:"ciphersuite,omitempty"`
	ExtensionHints string `json:"extension_hints,omitempty"`
	ExpiresAt      int64  `json:"expires_at"`
}

// Welcome is the auxiliary-store mailbox record for a kind-444 event
// extracted from a kind-1059 gift-wrap.
type Welcome struct {
	EventID        string `json:"event_id"`
	Recipient      string `json:"recipient"`
	Sender         string `json:"sender"`
	GroupID        string `json:"group_id"`
	PayloadB64     string `json:"payload_b64"`
	RatchetTreeB64 string `json:"ratchet_tree_b64,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	ExpiresAt      int64  `json:"expires_at"`
	PickedUpAt     int64  `json:"picked_up_at,omitempty"`
}

// RosterOp is the kind of membership change a RosterEntry records.
type RosterOp string

const (
	RosterOpAdd       RosterOp = "add"
	RosterOpRemove    RosterOp = "remove"
	RosterOpPromote   RosterOp = "promote"
	RosterOpDemote    RosterOp = "demote"
	RosterOpBootstrap RosterOp = "bootstrap"
	RosterOpReplace   RosterOp = "replace"
)

// RosterEntry is one append-only record in a group's roster/policy log.
type RosterEntry struct {
	GroupID   string   `json:"group_id"`
	Seq       int64    `json:"seq"`
	Op        RosterOp `json:"op"`
	Members   []string `json:"members"`
	Admin     string   `json:"admin"`
	CreatedAt int64    `json:"created_at"`
}

// ArchivedMessage indexes a stored event for offline catch-up delivery.
type ArchivedMessage struct {
	EventID    string   `json:"event_id"`
	GroupID    string   `json:"group_id,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	CreatedAt  int64    `json:"created_at"`
}

// ServiceActionState is the lifecycle state of a ServiceAction.
type ServiceActionState string

const (
	ServiceActionRequested ServiceActionState = "requested"
	ServiceActionPrepared  ServiceActionState = "prepared"
	ServiceActionNotified  ServiceActionState = "notified"
	ServiceActionCompleted ServiceActionState = "completed"
	ServiceActionCanceled  ServiceActionState = "canceled"
	ServiceActionExpired   ServiceActionState = "expired"
	ServiceActionFailed    ServiceActionState = "failed"
)

// ServiceAction is the idempotency and audit record for a dispatched
// service-action request.
type ServiceAction struct {
	ActionID        string             `json:"action_id"`
	Profile         string             `json:"profile"`
	ClientScopeID   string             `json:"client_scope_id"`
	VersionID       string             `json:"version_id,omitempty"`
	State           ServiceActionState `json:"state"`
	RequiredAcks    int                `json:"required_acks"`
	AckCount        int                `json:"ack_count"`
	Ackers          []string           `json:"ackers,omitempty"`
	NotifyMessageID string             `json:"notify_message_id,omitempty"`
	CreatedAt       int64              `json:"created_at"`
	AckDeadline     int64              `json:"ack_deadline,omitempty"`
	Outcome         string             `json:"outcome,omitempty"`
}

// SecretVersionState is the lifecycle state of a SecretVersion.
type SecretVersionState string

const (
	SecretVersionPending SecretVersionState = "pending"
	SecretVersionCurrent SecretVersionState = "current"
	SecretVersionGrace   SecretVersionState = "grace"
	SecretVersionRetired SecretVersionState = "retired"
)

// SecretVersion is a rotation-profile record keyed by (client scope, version).
type SecretVersion struct {
	ClientScopeID string             `json:"client_scope_id"`
	VersionID     string             `json:"version_id"`
	SecretHash    string             `json:"secret_hash"` // MAC output, base64url-without-padding
	Algorithm     string             `json:"algorithm"`
	MACKeyRef     string             `json:"mac_key_ref"`
	NotBefore     int64              `json:"not_before"`
	NotAfter      int64              `json:"not_after,omitempty"`
	State         SecretVersionState `json:"state"`
	Operator      string             `json:"operator"`
}

// PendingDeletionKind distinguishes the scheduler task that owns a
// PendingDeletion record, since the due-time re-check differs between them.
type PendingDeletionKind string

const (
	// PendingDeletionPrune is a per-owner prune-down scheduled when a
	// kind-443 ingest pushed the owner's count above the configured max.
	PendingDeletionPrune PendingDeletionKind = "prune"
	// PendingDeletionLastResort is the last-resort transition timer
	// scheduled when a new KeyPackage arrives while the owner had exactly
	// one record.
	PendingDeletionLastResort PendingDeletionKind = "last-resort"
)

// PendingDeletion schedules a deferred deletion re-check for an owner's
// KeyPackage mailbox: either a prune-down after exceeding the configured
// maximum, or the last-resort transition after a solo record is
// superseded by a new arrival.
type PendingDeletion struct {
	Owner       string              `json:"owner"`
	Kind        PendingDeletionKind `json:"kind"`
	OldEventID  string              `json:"old_event_id"`
	NewEventIDs []string            `json:"new_event_ids"`
	DueAt       int64               `json:"due_at"`
}
