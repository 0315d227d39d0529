package mlsgateway

import (
	"time"

	"github.com/cuemby/mls-relay/pkg/extension"
	"github.com/cuemby/mls-relay/pkg/metrics"
	"github.com/cuemby/mls-relay/pkg/types"
)

// handleKeyPackage ingests a kind-443 event into the mailbox. Per-owner
// overflow is never rejected: the event is always accepted, and a
// delayed-pruning record is scheduled instead.
func (g *Gateway) handleKeyPackage(e *types.Event) extension.Result {
	payload, err := decodeKeyPackageContent(e)
	if err != nil {
		return extension.Reject("encoding-invalid: " + err.Error())
	}

	kp := &types.KeyPackage{
		EventID:        e.ID,
		Owner:          e.PubKey,
		CreatedAt:      e.CreatedAt,
		PayloadB64:     payload,
		Ciphersuite:    e.TagValue("ciphersuite"),
		ExtensionHints: e.TagValue("ext"),
		ExpiresAt:      e.CreatedAt + g.cfg.KeyPackageTTLSeconds,
	}

	if err := g.aux.PutKeyPackage(kp); err != nil {
		return extension.Reject("storage-io: " + err.Error())
	}

	count, err := g.aux.CountKeyPackagesByOwner(e.PubKey)
	if err != nil {
		return extension.Continue()
	}
	metrics.KeyPackagePoolSize.WithLabelValues(e.PubKey).Set(float64(count))

	if count == 2 {
		// The owner had exactly one record before this ingest; the previous
		// solo record is now superseded and becomes eligible for the
		// last-resort transition once the pool looks healthy again.
		existing, err := g.aux.ListKeyPackagesByOwner(e.PubKey)
		if err == nil && len(existing) >= 1 {
			oldest := existing[0]
			if oldest.EventID != e.ID {
				g.aux.SchedulePendingDeletion(&types.PendingDeletion{
					Owner:       e.PubKey,
					Kind:        types.PendingDeletionLastResort,
					OldEventID:  oldest.EventID,
					NewEventIDs: []string{e.ID},
					DueAt:       time.Now().Unix() + int64(g.cfg.LastResortDeletionDelay),
				})
			}
		}
	}

	if g.cfg.MaxKeyPackagesPerUser > 0 && count > g.cfg.MaxKeyPackagesPerUser {
		g.aux.SchedulePendingDeletion(&types.PendingDeletion{
			Owner:      e.PubKey,
			Kind:       types.PendingDeletionPrune,
			NewEventIDs: []string{e.ID},
			DueAt:      time.Now().Unix() + int64(g.cfg.PruningDelaySeconds),
		})
	}

	return extension.Continue()
}
