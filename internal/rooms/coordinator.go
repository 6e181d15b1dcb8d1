package rooms

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"collabhub/internal/metrics"
	"collabhub/internal/models"
)

// EditOutcome is the accept/reject decision for one proposed edit. Doc is
// the authoritative state after the decision: the new state on accept, the
// current state (for the client to rebase on) on conflict.
type EditOutcome struct {
	Accepted bool
	Doc      models.DocState
}

// ProposeEdit applies optimistic concurrency to a document room. The
// check-and-increment is atomic under the room lock, so two concurrent
// proposals with the same base version resolve to exactly one acceptance.
//
// An edit naming an unknown room hydrates the last durable state (version 0
// when none exists) and arbitrates against it. Persistence happens before
// the version increment: a store failure leaves the room at its last durable
// version and is reported as ErrPersist. A room that still has no members
// after the decision is not retained; its state lives in the store.
func (d *Directory) ProposeEdit(ctx context.Context, roomID string, baseVersion int64, payload, authorSessionID string) (EditOutcome, error) {
	r, err := d.getOrCreate(roomID, models.KindDocument)
	if err != nil {
		return EditOutcome{}, err
	}

	r.mu.Lock()
	outcome, err := d.proposeLocked(ctx, r, roomID, baseVersion, payload, authorSessionID)
	empty := len(r.members) == 0
	r.mu.Unlock()

	if empty {
		d.dispose(roomID)
	}
	return outcome, err
}

func (d *Directory) proposeLocked(ctx context.Context, r *Room, roomID string, baseVersion int64, payload, authorSessionID string) (EditOutcome, error) {
	if !r.loaded {
		state, ok, err := d.loadState(ctx, roomID)
		if err != nil {
			return EditOutcome{}, fmt.Errorf("hydrate room %s: %w", roomID, err)
		}
		if ok {
			r.doc = state
		}
		r.loaded = true
	}

	if baseVersion != r.doc.Version {
		metrics.EditsConflicted.Inc()
		return EditOutcome{Accepted: false, Doc: r.doc}, nil
	}

	next := models.DocState{Content: payload, Version: r.doc.Version + 1}
	pctx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	err := d.store.PersistEdit(pctx, roomID, next.Version, next.Content)
	cancel()
	if err != nil {
		d.log.Error("edit persist failed", zap.String("roomId", roomID), zap.Error(err))
		return EditOutcome{Accepted: false, Doc: r.doc}, fmt.Errorf("%w: %v", ErrPersist, err)
	}

	r.doc = next
	metrics.EditsAccepted.Inc()

	// Still under the room lock: accepted edits broadcast in version order.
	update := models.Frame{Type: "document_updated", Data: models.DocumentUpdated{
		Content:         next.Content,
		Version:         next.Version,
		AuthorSessionID: authorSessionID,
	}}
	for sessionID := range r.members {
		if sessionID == authorSessionID {
			continue
		}
		_ = d.sender.Send(sessionID, update)
	}
	return EditOutcome{Accepted: true, Doc: next}, nil
}
