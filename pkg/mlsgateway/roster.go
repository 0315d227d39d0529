package mlsgateway

import (
	"fmt"
	"strconv"

	"github.com/cuemby/mls-relay/pkg/extension"
	"github.com/cuemby/mls-relay/pkg/relayerr"
	"github.com/cuemby/mls-relay/pkg/types"
)

var validRosterOps = map[types.RosterOp]bool{
	types.RosterOpAdd:       true,
	types.RosterOpRemove:    true,
	types.RosterOpPromote:   true,
	types.RosterOpDemote:    true,
	types.RosterOpBootstrap: true,
	types.RosterOpReplace:   true,
}

// handleRosterPolicy ingests a kind-450 event. Requires tags h (group),
// seq (strictly monotonic per group), op, and one or more p (member keys).
// Rejects non-admin authors, stale sequences, and schema violations. A
// roster event for a group not yet in the registry creates it, with the
// author as owner and first admin.
func (g *Gateway) handleRosterPolicy(e *types.Event) extension.Result {
	groupID := e.TagValue("h")
	seqStr := e.TagValue("seq")
	op := types.RosterOp(e.TagValue("op"))
	members := e.TagValues("p")

	if groupID == "" || seqStr == "" || !validRosterOps[op] || len(members) == 0 {
		return extension.Reject(fmt.Sprintf("%v: malformed roster/policy event", relayerr.ErrEncodingInvalid))
	}

	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return extension.Reject(fmt.Sprintf("%v: non-numeric seq", relayerr.ErrEncodingInvalid))
	}

	grp, err := g.aux.GetGroup(groupID)
	if err != nil {
		return extension.Reject("storage-io: " + err.Error())
	}
	if !isAdmin(grp, e.PubKey) {
		return extension.Reject(fmt.Sprintf("%v: %s is not an admin of %s", relayerr.ErrUnauthorizedOp, e.PubKey, groupID))
	}

	entry := &types.RosterEntry{
		GroupID:   groupID,
		Seq:       seq,
		Op:        op,
		Members:   members,
		Admin:     e.PubKey,
		CreatedAt: e.CreatedAt,
	}
	if err := g.aux.AppendRosterEntry(entry); err != nil {
		return extension.Reject(fmt.Sprintf("%v", err))
	}

	if grp == nil {
		grp = &types.Group{ID: groupID, Owner: e.PubKey, AdminKeys: []string{e.PubKey}}
	}
	applyRosterEffect(grp, entry)
	if err := g.aux.UpsertGroup(grp); err != nil {
		return extension.Reject("storage-io: " + err.Error())
	}

	return extension.Continue()
}

// isAdmin reports whether pubkey is authorized to administer grp. A group
// with no admin set yet (bootstrap) is administerable by anyone; once
// bootstrapped, only configured admins may act.
func isAdmin(grp *types.Group, pubkey string) bool {
	if grp == nil || len(grp.AdminKeys) == 0 {
		return true
	}
	for _, k := range grp.AdminKeys {
		if k == pubkey {
			return true
		}
	}
	return false
}

func applyRosterEffect(grp *types.Group, entry *types.RosterEntry) {
	if grp == nil {
		return
	}
	switch entry.Op {
	case types.RosterOpBootstrap, types.RosterOpReplace:
		grp.AdminKeys = entry.Members
	case types.RosterOpAdd, types.RosterOpPromote:
		grp.AdminKeys = addMissing(grp.AdminKeys, entry.Members)
	case types.RosterOpRemove, types.RosterOpDemote:
		grp.AdminKeys = removeAll(grp.AdminKeys, entry.Members)
	}
}

func addMissing(existing, add []string) []string {
	have := make(map[string]bool, len(existing))
	for _, k := range existing {
		have[k] = true
	}
	out := existing
	for _, k := range add {
		if !have[k] {
			out = append(out, k)
			have[k] = true
		}
	}
	return out
}

func removeAll(existing, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, k := range remove {
		drop[k] = true
	}
	var out []string
	for _, k := range existing {
		if !drop[k] {
			out = append(out, k)
		}
	}
	return out
}
