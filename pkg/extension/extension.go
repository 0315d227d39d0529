// Package extension runs an ordered chain of hooks over every event
// accepted onto the relay, the same way the reconciliation loop folds a
// sequence of independent checks over cluster state before any single
// decision is final. Every hook is handed the same inbound event; their
// results are folded together in order, and any hook can veto, rewrite, or
// fan out additional events.
package extension

import "github.com/cuemby/mls-relay/pkg/types"

// Verdict is the kind of result a hook returns.
type Verdict string

const (
	VerdictContinue Verdict = "continue"
	VerdictReject   Verdict = "reject"
	VerdictReplace  Verdict = "replace"
	VerdictAdd      Verdict = "add"
	VerdictConsume  Verdict = "consume"
)

// Result is a tagged-variant hook outcome.
type Result struct {
	Verdict Verdict

	// Reject
	Reason string

	// Replace: the event(s) that should be stored/broadcast instead of the
	// input event.
	Replace []*types.Event

	// Add: extra events to store/broadcast alongside the input event.
	Add []*types.Event

	// Consume: identifiers of previously-stored events this hook has
	// consumed (e.g. a KeyPackage delivered to exactly one subscriber) and
	// that should now be deleted from the primary store.
	Consume []string
}

// Continue is the zero-effort, non-terminal result.
func Continue() Result { return Result{Verdict: VerdictContinue} }

// Reject terminates the chain and rejects the event with reason.
func Reject(reason string) Result { return Result{Verdict: VerdictReject, Reason: reason} }

// Replace substitutes the input event with replacements.
func Replace(events ...*types.Event) Result {
	return Result{Verdict: VerdictReplace, Replace: events}
}

// Add appends extra events alongside the input event.
func Add(events ...*types.Event) Result {
	return Result{Verdict: VerdictAdd, Add: events}
}

// Consume marks stored events for deletion after commit.
func Consume(ids ...string) Result {
	return Result{Verdict: VerdictConsume, Consume: ids}
}

// Hook inspects (and may transform) an inbound event before it is
// committed to the primary store.
type Hook interface {
	// Name identifies the hook for logging and metrics.
	Name() string

	// HandleEvent is invoked once per accepted EVENT frame. sessionPubkey is
	// the authenticated pubkey of the publishing session, or empty if the
	// relay has no NIP-42 session for it.
	HandleEvent(e *types.Event, sessionPubkey string) Result
}

// ReqHook lets an extension intercept a subscription before the Event Store
// is queried, e.g. to synthesize results from a secondary store instead of
// the primary one.
type ReqHook interface {
	Name() string

	// HandleReq is invoked once per REQ, before the primary store is
	// queried. intercepted=true means the extension has fully answered the
	// request (events may be empty); the caller must not query the Event
	// Store for this REQ.
	HandleReq(filters []*types.Filter, requesterPubkey string) (events []*types.Event, intercepted bool, err error)
}

// Chain runs an ordered sequence of hooks over one event, folding their
// effects together.
type Chain struct {
	hooks    []Hook
	reqHooks []ReqHook
}

// NewChain builds a chain from hooks in evaluation order.
func NewChain(hooks ...Hook) *Chain {
	return &Chain{hooks: hooks}
}

// WithReqHooks attaches REQ-interception hooks to the chain.
func (c *Chain) WithReqHooks(hooks ...ReqHook) *Chain {
	c.reqHooks = hooks
	return c
}

// RunReq offers a REQ's filters to every req hook in order, stopping at the
// first one that intercepts.
func (c *Chain) RunReq(filters []*types.Filter, requesterPubkey string) (events []*types.Event, intercepted bool, err error) {
	for _, h := range c.reqHooks {
		events, intercepted, err = h.HandleReq(filters, requesterPubkey)
		if err != nil || intercepted {
			return events, intercepted, err
		}
	}
	return nil, false, nil
}

// Outcome is the chain's combined effect after every hook has run (or the
// chain stopped early on a reject).
type Outcome struct {
	Rejected   bool
	Reason     string
	RejectedBy string

	// Store holds the events that should ultimately be committed: the
	// original event unless some hook replaced it, plus anything added.
	Store []*types.Event

	// Consume holds identifiers of already-stored events to delete.
	Consume []string
}

// Run folds every hook's result into a single Outcome. A reject from any
// hook stops evaluation immediately.
func (c *Chain) Run(e *types.Event, sessionPubkey string) Outcome {
	store := []*types.Event{e}
	var consume []string

	for _, h := range c.hooks {
		r := h.HandleEvent(e, sessionPubkey)
		switch r.Verdict {
		case VerdictContinue:
			// no-op
		case VerdictReject:
			return Outcome{Rejected: true, Reason: r.Reason, RejectedBy: h.Name()}
		case VerdictReplace:
			store = r.Replace
		case VerdictAdd:
			store = append(store, r.Add...)
		case VerdictConsume:
			consume = append(consume, r.Consume...)
		}
	}

	return Outcome{Store: store, Consume: consume}
}
