// Package auxstore is the secondary, document-model store holding every
// entity the MLS gateway and service-action dispatcher own: groups,
// KeyPackages, Welcomes, the roster/policy log, archived messages, service
// actions, secret versions, pending deletions, and rate-limit counters.
// Writes are idempotent, keyed by event identifier or action identifier.
package auxstore

import "github.com/cuemby/mls-relay/pkg/types"

// Store is the auxiliary document store described by the component design.
type Store interface {
	// Groups
	UpsertGroup(g *types.Group) error
	GetGroup(id string) (*types.Group, error)

	// KeyPackages
	PutKeyPackage(kp *types.KeyPackage) error
	GetKeyPackage(eventID string) (*types.KeyPackage, error)
	ListKeyPackagesByOwner(owner string) ([]*types.KeyPackage, error) // oldest-first
	DeleteKeyPackage(eventID string) error
	CountKeyPackagesByOwner(owner string) (int, error)

	// CleanupExpiredKeyPackages deletes every expired KeyPackage across all
	// owners, preserving at least one record per owner, and reports how
	// many were removed.
	CleanupExpiredKeyPackages(now int64) (int, error)

	// Welcomes
	PutWelcome(w *types.Welcome) error
	GetWelcome(eventID string) (*types.Welcome, error)
	ListWelcomesByRecipient(recipient string, limit int) ([]*types.Welcome, error)
	AckWelcome(eventID string, at int64) error
	DeleteExpiredWelcomes(now int64) (int, error)

	// Roster / policy log
	LastRosterSeq(groupID string) (int64, error)
	AppendRosterEntry(entry *types.RosterEntry) error

	// Archived messages (offline catch-up)
	ArchiveMessage(m *types.ArchivedMessage) error
	ListArchivedSince(recipient string, since int64, limit int) ([]*types.ArchivedMessage, error)

	// Service actions
	GetServiceAction(actionID string) (*types.ServiceAction, error)
	PutServiceAction(a *types.ServiceAction) error

	// Secret versions (rotation profile)
	GetSecretVersion(clientScopeID, versionID string) (*types.SecretVersion, error)
	GetCurrentSecretVersion(clientScopeID string) (*types.SecretVersion, error)
	PutSecretVersion(v *types.SecretVersion) error
	PromoteSecretVersion(clientScopeID, newVersionID string, graceNotAfter int64) error

	// Pending deletions (last-resort transition timer)
	SchedulePendingDeletion(p *types.PendingDeletion) error
	ListDuePendingDeletions(now int64) ([]*types.PendingDeletion, error)
	DeletePendingDeletion(owner string, kind types.PendingDeletionKind, oldEventID string) error

	// Rate limiting: sliding window per (requester, target).
	AllowRequest(requester, target string, now, windowSeconds int64, max int) (bool, error)

	Close() error
}
