// Package thread produces the authoritative message list for the currently
// selected peer, reconciling a point-in-time history snapshot with the live
// push stream.
//
// The rules, in order of appearance:
//   - only messages belonging to the active thread are kept;
//   - a message id appears at most once;
//   - the merged list is ordered by createdAt ascending, id as tie-break;
//   - pushes racing an outstanding history fetch are buffered and merged,
//     never dropped;
//   - a fetch that completes after the selection moved on is discarded.
package thread

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pliu/courier/internal/models"
)

type LoadState int

const (
	LoadIdle LoadState = iota
	LoadLoading
	LoadLoaded
	LoadFailed
)

// HistoryFetcher is the snapshot collaborator.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, localID, peerID string) ([]models.Message, error)
}

type Reconciler struct {
	localID string
	fetcher HistoryFetcher
	logger  *zap.Logger

	// OnChange, when set, fires after every visible mutation with a copy of
	// the current list. Set it before the first SelectPeer.
	OnChange func([]models.Message)

	mu      sync.Mutex
	peer    *models.Identity
	gen     int
	state   LoadState
	msgs    []models.Message
	seen    map[string]struct{}
	pending []models.Message
}

func NewReconciler(localID string, fetcher HistoryFetcher, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		localID: localID,
		fetcher: fetcher,
		logger:  logger,
		seen:    map[string]struct{}{},
	}
}

// SelectPeer replaces the active thread with an empty loading one bound to
// peer and kicks off the history fetch. Pushes for the new thread arriving
// before the snapshot are buffered and folded into the merge.
func (r *Reconciler) SelectPeer(ctx context.Context, peer models.Identity) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	p := peer
	r.peer = &p
	r.state = LoadLoading
	r.msgs = nil
	r.seen = map[string]struct{}{}
	r.pending = nil
	r.mu.Unlock()

	r.notify()

	go func() {
		snapshot, err := r.fetcher.FetchHistory(ctx, r.localID, peer.ID)
		r.onHistoryFetched(gen, snapshot, err)
	}()
}

// Deselect clears the active thread. An in-flight fetch for the prior peer
// completes into the void.
func (r *Reconciler) Deselect() {
	r.mu.Lock()
	r.gen++
	r.peer = nil
	r.state = LoadIdle
	r.msgs = nil
	r.seen = map[string]struct{}{}
	r.pending = nil
	r.mu.Unlock()

	r.notify()
}

// OnInboundPush is the live-push entry point. It reads the selection at
// dispatch time, so a handler registered once at connect keeps working
// across any number of peer switches.
func (r *Reconciler) OnInboundPush(m models.Message) {
	r.mu.Lock()
	if r.peer == nil || !models.NewThreadKey(r.localID, r.peer.ID).Matches(m) {
		r.mu.Unlock()
		return
	}

	if r.state == LoadLoading {
		r.pending = append(r.pending, m)
		r.mu.Unlock()
		return
	}

	if _, dup := r.seen[m.ID]; dup {
		r.mu.Unlock()
		return
	}
	r.seen[m.ID] = struct{}{}
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()

	r.notify()
}

func (r *Reconciler) onHistoryFetched(gen int, snapshot []models.Message, err error) {
	r.mu.Lock()
	if gen != r.gen {
		// Selection moved on while the fetch was in flight.
		r.logger.Debug("discarding stale history result")
		r.mu.Unlock()
		return
	}

	if err != nil {
		r.logger.Warn("history fetch failed", zap.Error(err))
		snapshot = nil
		r.state = LoadFailed
	} else {
		r.state = LoadLoaded
	}

	// Union snapshot with whatever pushes raced it. Even on a failed fetch
	// the buffered pushes are kept; losing them would be worse than showing
	// a partial thread.
	r.msgs = merge(snapshot, r.pending)
	r.seen = map[string]struct{}{}
	for _, m := range r.msgs {
		r.seen[m.ID] = struct{}{}
	}
	r.pending = nil
	r.mu.Unlock()

	r.notify()
}

// merge unions two message lists by id and orders the result by createdAt
// ascending with id as the tie-break for equal timestamps.
func merge(snapshot, pushes []models.Message) []models.Message {
	byID := make(map[string]models.Message, len(snapshot)+len(pushes))
	for _, m := range snapshot {
		byID[m.ID] = m
	}
	for _, m := range pushes {
		byID[m.ID] = m
	}

	out := make([]models.Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Messages returns a copy of the active thread's ordered message list.
func (r *Reconciler) Messages() []models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// SelectedPeer returns the current selection, or nil.
func (r *Reconciler) SelectedPeer() *models.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peer == nil {
		return nil
	}
	p := *r.peer
	return &p
}

func (r *Reconciler) State() LoadState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconciler) notify() {
	if r.OnChange == nil {
		return
	}
	r.OnChange(r.Messages())
}
