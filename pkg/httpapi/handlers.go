package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/mls-relay/pkg/eventstore"
	"github.com/cuemby/mls-relay/pkg/log"
	"github.com/cuemby/mls-relay/pkg/types"
	"github.com/gorilla/mux"
)

// ingest runs a REST-submitted event through the same extension chain and
// Event Store the WebSocket transport uses, then fans out anything
// committed to live subscribers. sessionPubkey is the event's own pubkey:
// REST callers are already authenticated at the bearer layer, so there is
// no separate NIP-42 identity to defer to.
func (s *Server) ingest(e *types.Event) error {
	outcome := s.chain.Run(e, e.PubKey)
	if outcome.Rejected {
		return relayRejected{outcome.RejectedBy, outcome.Reason}
	}
	for _, stored := range outcome.Store {
		status, err := s.store.Put(stored)
		if err != nil {
			return err
		}
		if status == eventstore.PutCommitted {
			s.subs.Publish(stored)
		}
	}
	for _, id := range outcome.Consume {
		if err := s.store.Delete(id); err != nil {
			log.WithEventID(id).Warn().Err(err).Msg("failed to delete consumed event")
		}
	}
	return nil
}

type relayRejected struct {
	by     string
	reason string
}

func (r relayRejected) Error() string { return r.by + ": " + r.reason }

// postKeyPackage accepts a signed kind-443 event and ingests it exactly as
// the WebSocket EVENT path would.
func (s *Server) postKeyPackage(w http.ResponseWriter, r *http.Request) {
	var e types.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-frame", err.Error())
		return
	}
	if err := s.ingest(&e); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "rejected", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"event_id": e.ID})
}

// getKeyPackages returns the KeyPackages held for the given owner, bounded
// by the gateway's configured per-query maximum. Fetching does not
// consume them; /keypackages/{id}/ack does.
func (s *Server) getKeyPackages(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("recipient")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "invalid-frame", "recipient query parameter is required")
		return
	}
	all, err := s.aux.ListKeyPackagesByOwner(owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage-io", err.Error())
		return
	}
	limit := s.cfg.Extensions.MLSGateway.MaxKeyPackagesPerQuery
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	writeJSON(w, http.StatusOK, all)
}

// ackKeyPackage consumes (deletes) a delivered KeyPackage.
func (s *Server) ackKeyPackage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.aux.DeleteKeyPackage(id); err != nil {
		writeError(w, http.StatusNotFound, "not-found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acked"})
}

// postWelcome accepts a signed kind-1059 gift-wrap carrying a kind-444
// Welcome and ingests it the same way the WebSocket EVENT path does.
func (s *Server) postWelcome(w http.ResponseWriter, r *http.Request) {
	var e types.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-frame", err.Error())
		return
	}
	if err := s.ingest(&e); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "rejected", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"event_id": e.ID})
}

func (s *Server) getWelcomes(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		writeError(w, http.StatusBadRequest, "invalid-frame", "recipient query parameter is required")
		return
	}
	limit := parseIntQuery(r, "limit", 50)
	welcomes, err := s.aux.ListWelcomesByRecipient(recipient, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage-io", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, welcomes)
}

func (s *Server) ackWelcome(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.aux.AckWelcome(id, time.Now().Unix()); err != nil {
		writeError(w, http.StatusNotFound, "not-found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acked"})
}

type missedMessagesRequest struct {
	Pubkey string `json:"pubkey"`
	Since  int64  `json:"since"`
	Limit  int    `json:"limit"`
}

// postMissedMessages returns the full events behind every archived-message
// record recorded for pubkey since the given timestamp, for clients
// catching up after being offline.
func (s *Server) postMissedMessages(w http.ResponseWriter, r *http.Request) {
	var req missedMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid-frame", err.Error())
		return
	}
	if req.Pubkey == "" {
		writeError(w, http.StatusBadRequest, "invalid-frame", "pubkey is required")
		return
	}

	archived, err := s.aux.ListArchivedSince(req.Pubkey, req.Since, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage-io", err.Error())
		return
	}

	events := make([]*types.Event, 0, len(archived))
	for _, m := range archived {
		e, err := s.store.Get(m.EventID)
		if err != nil {
			log.WithEventID(m.EventID).Warn().Err(err).Msg("failed to load archived event")
			continue
		}
		if e != nil {
			events = append(events, e)
		}
	}
	writeJSON(w, http.StatusOK, events)
}
