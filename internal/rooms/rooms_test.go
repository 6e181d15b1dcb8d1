package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"collabhub/internal/models"
)

type fakeStore struct {
	mu         sync.Mutex
	states     map[string]models.DocState
	persistErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]models.DocState)}
}

func (f *fakeStore) PersistEdit(_ context.Context, roomID string, version int64, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return f.persistErr
	}
	f.states[roomID] = models.DocState{Content: content, Version: version}
	return nil
}

func (f *fakeStore) LoadRoomState(_ context.Context, roomID string) (models.DocState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[roomID]
	return state, ok, nil
}

func (f *fakeStore) PersistNotification(context.Context, models.NotificationEvent) error {
	return nil
}

func (f *fakeStore) FetchUndelivered(context.Context, string) ([]models.NotificationEvent, error) {
	return nil, nil
}

func (f *fakeStore) MarkDelivered(context.Context, string, string) error { return nil }

type fakeSender struct {
	mu     sync.Mutex
	frames map[string][]models.Frame
}

func newFakeSender() *fakeSender { return &fakeSender{frames: make(map[string][]models.Frame)} }

func (f *fakeSender) Send(sessionID string, frame models.Frame) error {
	f.mu.Lock()
	f.frames[sessionID] = append(f.frames[sessionID], frame)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) sent(sessionID string) []models.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Frame, len(f.frames[sessionID]))
	copy(out, f.frames[sessionID])
	return out
}

func newTestDirectory() (*Directory, *fakeStore, *fakeSender) {
	st := newFakeStore()
	sender := newFakeSender()
	return NewDirectory(st, sender, time.Second, zap.NewNop()), st, sender
}

func TestJoinCreatesDocumentRoom(t *testing.T) {
	d, _, _ := newTestDirectory()
	snap, err := d.Join(context.Background(), "doc-1", models.KindDocument, "s1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if snap.Doc.Version != 0 || snap.Doc.Content != "" {
		t.Fatalf("new document room should start at version 0, got %#v", snap.Doc)
	}
	if len(snap.Members) != 1 || snap.Members[0] != "s1" {
		t.Fatalf("unexpected members: %v", snap.Members)
	}
}

func TestJoinHydratesPersistedState(t *testing.T) {
	d, st, _ := newTestDirectory()
	st.states["doc-1"] = models.DocState{Content: "saved", Version: 7}

	snap, err := d.Join(context.Background(), "doc-1", models.KindDocument, "s1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if snap.Doc.Version != 7 || snap.Doc.Content != "saved" {
		t.Fatalf("expected hydrated state, got %#v", snap.Doc)
	}
}

func TestJoinKindMismatch(t *testing.T) {
	d, _, _ := newTestDirectory()
	if _, err := d.Join(context.Background(), "room-1", models.KindDocument, "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := d.Join(context.Background(), "room-1", models.KindChannel, "s2"); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("expected ErrKindMismatch, got %v", err)
	}
}

func TestMembershipIsASetUnderInterleaving(t *testing.T) {
	d, _, _ := newTestDirectory()
	ctx := context.Background()

	// keeper holds the room open so GC never races the assertion.
	if _, err := d.Join(ctx, "room-1", models.KindChannel, "keeper"); err != nil {
		t.Fatalf("join: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("s%d", i)
			if _, err := d.Join(ctx, "room-1", models.KindChannel, id); err != nil {
				t.Errorf("join %s: %v", id, err)
			}
			if i%2 == 1 {
				d.Leave(ctx, "room-1", id)
			}
		}(i)
	}
	wg.Wait()

	members := d.Members("room-1")
	want := map[string]bool{"keeper": true}
	for i := 0; i < 20; i += 2 {
		want[fmt.Sprintf("s%d", i)] = true
	}
	if len(members) != len(want) {
		t.Fatalf("expected %d members, got %d: %v", len(want), len(members), members)
	}
	for _, id := range members {
		if !want[id] {
			t.Fatalf("unexpected member %s", id)
		}
	}
}

func TestLeaveDisposesEmptyRoomAndPersists(t *testing.T) {
	d, st, _ := newTestDirectory()
	ctx := context.Background()

	if _, err := d.Join(ctx, "doc-1", models.KindDocument, "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := d.ProposeEdit(ctx, "doc-1", 0, "hello", "s1"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	if remaining := d.Leave(ctx, "doc-1", "s1"); remaining != 0 {
		t.Fatalf("expected empty room, got %d members", remaining)
	}
	if d.Len() != 0 {
		t.Fatalf("expected room disposed")
	}
	if state := st.states["doc-1"]; state.Version != 1 || state.Content != "hello" {
		t.Fatalf("expected state persisted on dispose, got %#v", state)
	}
}

func TestLeaveUnknownRoom(t *testing.T) {
	d, _, _ := newTestDirectory()
	if remaining := d.Leave(context.Background(), "nope", "s1"); remaining != 0 {
		t.Fatalf("expected 0, got %d", remaining)
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	d, _, sender := newTestDirectory()
	ctx := context.Background()
	for _, id := range []string{"s1", "s2", "s3"} {
		if _, err := d.Join(ctx, "chat-1", models.KindChannel, id); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	d.Broadcast("chat-1", models.Frame{Type: "message"}, "s1")

	if got := sender.sent("s1"); len(got) != 0 {
		t.Fatalf("sender should be excluded, got %#v", got)
	}
	for _, id := range []string{"s2", "s3"} {
		if got := sender.sent(id); len(got) != 1 || got[0].Type != "message" {
			t.Fatalf("%s missing broadcast: %#v", id, got)
		}
	}
}

func TestProposeEditAcceptBroadcastsToPeersOnly(t *testing.T) {
	d, _, sender := newTestDirectory()
	ctx := context.Background()
	for _, id := range []string{"author", "peer"} {
		if _, err := d.Join(ctx, "doc-1", models.KindDocument, id); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}

	outcome, err := d.ProposeEdit(ctx, "doc-1", 0, "hello", "author")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !outcome.Accepted || outcome.Doc.Version != 1 || outcome.Doc.Content != "hello" {
		t.Fatalf("unexpected outcome: %#v", outcome)
	}

	peerFrames := sender.sent("peer")
	if len(peerFrames) != 1 || peerFrames[0].Type != "document_updated" {
		t.Fatalf("peer should receive document_updated, got %#v", peerFrames)
	}
	update := peerFrames[0].Data.(models.DocumentUpdated)
	if update.Version != 1 || update.Content != "hello" || update.AuthorSessionID != "author" {
		t.Fatalf("unexpected update payload: %#v", update)
	}
	if got := sender.sent("author"); len(got) != 0 {
		t.Fatalf("author already holds the post-edit state, got %#v", got)
	}
}

func TestProposeEditStaleBaseVersionRejected(t *testing.T) {
	d, _, _ := newTestDirectory()
	ctx := context.Background()
	if _, err := d.ProposeEdit(ctx, "doc-1", 0, "v1", "s1"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	outcome, err := d.ProposeEdit(ctx, "doc-1", 0, "stale", "s2")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if outcome.Accepted {
		t.Fatalf("stale edit must be rejected")
	}
	if outcome.Doc.Version != 1 || outcome.Doc.Content != "v1" {
		t.Fatalf("conflict must carry the authoritative state, got %#v", outcome.Doc)
	}
}

func TestConcurrentSameBaseEditsExactlyOneAccepted(t *testing.T) {
	d, _, _ := newTestDirectory()
	ctx := context.Background()
	if _, err := d.ProposeEdit(ctx, "doc-1", 0, "base", "s0"); err != nil {
		t.Fatalf("seed edit: %v", err)
	}

	var wg sync.WaitGroup
	outcomes := make([]EditOutcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := d.ProposeEdit(ctx, "doc-1", 1, fmt.Sprintf("edit-%d", i), fmt.Sprintf("s%d", i+1))
			if err != nil {
				t.Errorf("edit %d: %v", i, err)
				return
			}
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, out := range outcomes {
		if out.Accepted {
			accepted++
		} else if out.Doc.Version != 2 {
			t.Fatalf("conflict should carry version 2, got %#v", out.Doc)
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one acceptance, got %d", accepted)
	}
}

func TestProposeEditPersistFailureKeepsVersion(t *testing.T) {
	d, st, _ := newTestDirectory()
	ctx := context.Background()
	st.persistErr = errors.New("store unavailable")

	_, err := d.ProposeEdit(ctx, "doc-1", 0, "lost", "s1")
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}

	// The room stays at its last durable version; the same base retries
	// cleanly once the store recovers.
	st.mu.Lock()
	st.persistErr = nil
	st.mu.Unlock()
	outcome, err := d.ProposeEdit(ctx, "doc-1", 0, "retry", "s1")
	if err != nil || !outcome.Accepted || outcome.Doc.Version != 1 {
		t.Fatalf("retry after recovery should succeed, outcome=%#v err=%v", outcome, err)
	}
}

func TestProposeEditUnknownRoomStartsAtZero(t *testing.T) {
	d, _, _ := newTestDirectory()
	outcome, err := d.ProposeEdit(context.Background(), "brand-new", 0, "first", "s1")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !outcome.Accepted || outcome.Doc.Version != 1 {
		t.Fatalf("first writer wins on an unknown room, got %#v", outcome)
	}
}

func TestProposeEditZeroMemberRoomNotRetained(t *testing.T) {
	d, st, _ := newTestDirectory()

	outcome, err := d.ProposeEdit(context.Background(), "orphan", 0, "first", "s1")
	if err != nil || !outcome.Accepted {
		t.Fatalf("edit: outcome=%#v err=%v", outcome, err)
	}
	if d.Len() != 0 {
		t.Fatalf("a room nobody joined must not be retained, %d rooms live", d.Len())
	}
	if state := st.states["orphan"]; state.Version != 1 || state.Content != "first" {
		t.Fatalf("edit must still be durable, got %#v", state)
	}
}

func TestProposeEditResumesFromDurableVersion(t *testing.T) {
	d, _, _ := newTestDirectory()
	ctx := context.Background()

	if _, err := d.ProposeEdit(ctx, "orphan", 0, "v1", "s1"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	// The room was dropped after the first edit; the next proposal hydrates
	// the durable state, so the version sequence continues.
	outcome, err := d.ProposeEdit(ctx, "orphan", 1, "v2", "s1")
	if err != nil || !outcome.Accepted || outcome.Doc.Version != 2 {
		t.Fatalf("expected version 2, outcome=%#v err=%v", outcome, err)
	}

	outcome, err = d.ProposeEdit(ctx, "orphan", 0, "stale", "s2")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if outcome.Accepted || outcome.Doc.Version != 2 {
		t.Fatalf("stale base must conflict against the durable version, got %#v", outcome)
	}
	if d.Len() != 0 {
		t.Fatalf("expected no rooms retained, got %d", d.Len())
	}
}

func TestProposeEditOnChannelRoom(t *testing.T) {
	d, _, _ := newTestDirectory()
	ctx := context.Background()
	if _, err := d.Join(ctx, "chat-1", models.KindChannel, "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := d.ProposeEdit(ctx, "chat-1", 0, "x", "s1"); !errors.Is(err, ErrKindMismatch) {
		t.Fatalf("expected ErrKindMismatch, got %v", err)
	}
}

func TestStatusSnapshot(t *testing.T) {
	d, _, _ := newTestDirectory()
	ctx := context.Background()
	if _, err := d.Join(ctx, "doc-1", models.KindDocument, "s1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := d.ProposeEdit(ctx, "doc-1", 0, "x", "s1"); err != nil {
		t.Fatalf("edit: %v", err)
	}

	status, ok := d.Status("doc-1")
	if !ok {
		t.Fatalf("expected room status")
	}
	if status.Kind != models.KindDocument || status.MemberCount != 1 || status.Version != 1 {
		t.Fatalf("unexpected status: %#v", status)
	}

	if _, ok := d.Status("missing"); ok {
		t.Fatalf("missing room should have no status")
	}
}
