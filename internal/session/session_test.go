package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"groupgames/internal/apperr"
	"groupgames/internal/auth"
	"groupgames/internal/game"
	"groupgames/internal/game/catalog"
	"groupgames/internal/game/tictactoe"
	"groupgames/internal/notify"
	"groupgames/internal/storage"
)

const group = "grp-1"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func setupTest(t *testing.T, opts ...Option) (*Manager, *storage.Store) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	for _, u := range []string{"alice", "bob", "carol"} {
		if err := store.AddMember(context.Background(), group, u); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(c.Now)}, opts...)
	return NewManager(store, store, catalog.Registry(), opts...), store
}

func as(user string) context.Context {
	return auth.WithUserID(context.Background(), user)
}

func createTicTacToe(t *testing.T, m *Manager, meta string) game.Game {
	t.Helper()
	req := CreateRequest{GroupID: group, Type: game.TicTacToe, Title: "Lunch break"}
	if meta != "" {
		req.Metadata = json.RawMessage(meta)
	}
	g, err := m.Create(as("alice"), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return g
}

func move(cell int) ActionRequest {
	a := tictactoe.Move(cell)
	return ActionRequest{EventType: a.Type, Payload: a.Payload}
}

func TestCreateAndJoin(t *testing.T) {
	m, _ := setupTest(t)
	g := createTicTacToe(t, m, "")
	if g.Status != game.StatusWaiting || g.Version != 1 {
		t.Fatalf("expected waiting game at version 1, got %s v%d", g.Status, g.Version)
	}

	p, err := m.Join(as("bob"), g.ID, "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if p.Role != game.RolePlayer {
		t.Fatalf("expected player role, got %s", p.Role)
	}

	d, err := m.Get(as("alice"), g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d.Game.Status != game.StatusInProgress {
		t.Fatalf("expected game to start when full, got %s", d.Game.Status)
	}
	if len(d.Participants) != 2 || len(d.Events) != 2 {
		t.Fatalf("expected 2 participants and 2 events, got %d and %d", len(d.Participants), len(d.Events))
	}
	if d.Events[1].EventType != game.EventJoin || *d.Events[1].UserID != "bob" {
		t.Fatalf("unexpected join event: %+v", d.Events[1])
	}
}

func TestCreateRequiresMembership(t *testing.T) {
	m, _ := setupTest(t)
	_, err := m.Create(as("mallory"), CreateRequest{GroupID: group, Type: game.Poll})
	if !errors.Is(err, apperr.ErrNotAMember) {
		t.Fatalf("expected not a member, got %v", err)
	}
	_, err = m.Create(context.Background(), CreateRequest{GroupID: group, Type: game.Poll})
	if !errors.Is(err, apperr.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	m, _ := setupTest(t)
	cases := []CreateRequest{
		{Type: game.Poll},
		{GroupID: group, Type: "chess"},
		{GroupID: group, Type: game.Poll, Metadata: json.RawMessage(`{"question":"?","options":["a"]}`)},
		{GroupID: group, Type: game.TicTacToe, Status: game.StatusFinished},
	}
	for _, req := range cases {
		if _, err := m.Create(as("alice"), req); apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("%+v: expected validation error, got %v", req, err)
		}
	}
}

func TestGetHidesOtherGroups(t *testing.T) {
	m, _ := setupTest(t)
	g := createTicTacToe(t, m, "")
	if _, err := m.Get(as("mallory"), g.ID); !errors.Is(err, apperr.ErrGameNotFound) {
		t.Fatalf("expected not found for outsider, got %v", err)
	}
	if _, err := m.Get(as("alice"), "missing"); !errors.Is(err, apperr.ErrGameNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := m.Join(as("mallory"), g.ID, ""); !errors.Is(err, apperr.ErrNotAMember) {
		t.Fatalf("expected not a member on join, got %v", err)
	}
}

func TestList(t *testing.T) {
	m, store := setupTest(t)
	createTicTacToe(t, m, "")
	createTicTacToe(t, m, "")
	if err := store.AddMember(context.Background(), "grp-2", "alice"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := m.Create(as("alice"), CreateRequest{GroupID: "grp-2", Type: game.StoryChain,
		Metadata: json.RawMessage(`{"prompt":"Once upon a time"}`)}); err != nil {
		t.Fatalf("create story: %v", err)
	}

	all, err := m.List(as("alice"), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 games across groups, got %d", len(all))
	}
	one, err := m.List(as("bob"), group)
	if err != nil {
		t.Fatalf("list group: %v", err)
	}
	if len(one) != 2 {
		t.Fatalf("expected 2 games in %s, got %d", group, len(one))
	}
	none, err := m.List(as("mallory"), group)
	if err != nil {
		t.Fatalf("list as outsider: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty list for outsider, got %v", none)
	}
}

func TestActionTurnOrder(t *testing.T) {
	m, _ := setupTest(t)
	g := createTicTacToe(t, m, "")
	if _, err := m.Join(as("bob"), g.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := m.Action(as("bob"), g.ID, move(0)); !errors.Is(err, apperr.ErrNotYourTurn) {
		t.Fatalf("expected not your turn, got %v", err)
	}
	res, err := m.Action(as("alice"), g.ID, move(4))
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.Event.Seq != 3 || res.Game.Version != 3 || res.AIEvent != nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if _, err := m.Action(as("carol"), g.ID, move(0)); !errors.Is(err, apperr.ErrNotAParticipant) {
		t.Fatalf("expected not a participant, got %v", err)
	}
}

func TestFinishedGameRejectsActions(t *testing.T) {
	m, _ := setupTest(t)
	g := createTicTacToe(t, m, "")
	if _, err := m.Join(as("bob"), g.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	moves := []struct {
		user string
		cell int
	}{{"alice", 0}, {"bob", 3}, {"alice", 1}, {"bob", 4}, {"alice", 2}}
	var last ActionResult
	for _, mv := range moves {
		var err error
		if last, err = m.Action(as(mv.user), g.ID, move(mv.cell)); err != nil {
			t.Fatalf("move %d: %v", mv.cell, err)
		}
	}
	if last.Game.Status != game.StatusFinished {
		t.Fatalf("expected finished, got %s", last.Game.Status)
	}

	before, _ := m.Get(as("alice"), g.ID)
	if _, err := m.Action(as("bob"), g.ID, move(5)); !errors.Is(err, apperr.ErrGameAlreadyTerminal) {
		t.Fatalf("expected game already terminal, got %v", err)
	}
	after, _ := m.Get(as("alice"), g.ID)
	if len(after.Events) != len(before.Events) || after.Game.Version != before.Game.Version {
		t.Fatal("rejected action must not append an event")
	}
	if string(after.Game.Metadata) != string(before.Game.Metadata) {
		t.Fatal("rejected action must not change metadata")
	}
}

func TestActionRejectsClientState(t *testing.T) {
	m, _ := setupTest(t)
	g := createTicTacToe(t, m, "")
	reqs := []ActionRequest{
		{EventType: "move", MetadataPatch: json.RawMessage(`{"board":["X"]}`)},
		{Status: game.StatusFinished},
		{EventType: "move", Status: game.StatusCancelled},
		{},
	}
	for _, req := range reqs {
		if _, err := m.Action(as("alice"), g.ID, req); apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("%+v: expected validation error, got %v", req, err)
		}
	}
}

func TestCancelViaStatus(t *testing.T) {
	m, _ := setupTest(t)
	g := createTicTacToe(t, m, "")
	if _, err := m.Join(as("bob"), g.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := m.Action(as("bob"), g.ID, ActionRequest{Status: game.StatusCancelled}); !errors.Is(err, apperr.ErrOwnerOnly) {
		t.Fatalf("expected owner only, got %v", err)
	}
	res, err := m.Action(as("alice"), g.ID, ActionRequest{Status: game.StatusCancelled})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Event.EventType != game.EventCancel || res.Game.Status != game.StatusCancelled {
		t.Fatalf("expected cancel event, got %+v", res)
	}
}

func TestConcurrentActionsConflict(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	for _, u := range []string{"alice", "bob"} {
		if err := store.AddMember(context.Background(), group, u); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}
	bs := &barrierStore{Store: store}
	m := NewManager(bs, store, catalog.Registry())

	g, err := m.Create(as("alice"), CreateRequest{GroupID: group, Type: game.Poll,
		Metadata: json.RawMessage(`{"question":"Lunch?","options":["Pizza","Tacos"]}`)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.Join(as("bob"), g.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	bs.arm(2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, u := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = m.Action(as(u), g.ID, ActionRequest{EventType: "vote", Payload: json.RawMessage(`{"option":0}`)})
		}()
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrVersionConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != 1 {
		t.Fatalf("expected one success and one conflict, got %d and %d", ok, conflicts)
	}
	events, err := store.Events(context.Background(), g.ID)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

// barrierStore holds GetGame callers until n of them have read the game.
type barrierStore struct {
	*storage.Store
	mu      sync.Mutex
	waiting int
	release chan struct{}
}

func (b *barrierStore) arm(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waiting = n
	b.release = make(chan struct{})
}

func (b *barrierStore) GetGame(ctx context.Context, id string) (game.Game, error) {
	g, err := b.Store.GetGame(ctx, id)
	b.mu.Lock()
	release := b.release
	if release != nil {
		b.waiting--
		if b.waiting == 0 {
			close(release)
			b.release = nil
		}
	}
	b.mu.Unlock()
	if release != nil {
		<-release
	}
	return g, err
}

func TestReplayMatchesStoredState(t *testing.T) {
	m, _ := setupTest(t)
	g := createTicTacToe(t, m, "")
	if _, err := m.Join(as("bob"), g.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	for _, mv := range []struct {
		user string
		cell int
	}{{"alice", 4}, {"bob", 0}, {"alice", 8}} {
		if _, err := m.Action(as(mv.user), g.ID, move(mv.cell)); err != nil {
			t.Fatalf("move: %v", err)
		}
	}
	r, err := m.Replay(as("bob"), g.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !r.Consistent || r.Status != game.StatusInProgress {
		t.Fatalf("expected consistent in-progress replay, got %+v", r)
	}
	if _, err := m.Replay(as("mallory"), g.ID); !errors.Is(err, apperr.ErrGameNotFound) {
		t.Fatalf("expected not found for outsider, got %v", err)
	}
}

func TestAIFollowUp(t *testing.T) {
	m, _ := setupTest(t)
	g := createTicTacToe(t, m, `{"opponent":"ai","difficulty":"hard"}`)
	if g.Status != game.StatusInProgress {
		t.Fatalf("expected AI game to start immediately, got %s", g.Status)
	}

	res, err := m.Action(as("alice"), g.ID, move(0))
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.AIEvent == nil {
		t.Fatal("expected an AI reply")
	}
	if res.AIEvent.UserID != nil || res.AIEvent.Seq != 3 || res.Game.Version != 3 {
		t.Fatalf("unexpected AI event: %+v", res.AIEvent)
	}
	var s tictactoe.State
	if err := json.Unmarshal(res.Game.Metadata, &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Board[4] != tictactoe.O || s.NextTurnUserID != "alice" {
		t.Fatalf("expected hard AI to take the centre and pass the turn back, got %+v", s)
	}

	r, err := m.Replay(as("alice"), g.ID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !r.Consistent {
		t.Fatal("replay with AI events should match stored state")
	}
}

func TestAIGameToCompletion(t *testing.T) {
	m, _ := setupTest(t)
	g := createTicTacToe(t, m, `{"opponent":"ai","difficulty":"hard"}`)
	for i := 0; i < 5; i++ {
		d, err := m.Get(as("alice"), g.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if d.Game.Status.Terminal() {
			break
		}
		var s tictactoe.State
		if err := json.Unmarshal(d.Game.Metadata, &s); err != nil {
			t.Fatalf("decode: %v", err)
		}
		cells := tictactoe.EmptyCells(s.Board)
		if _, err := m.Action(as("alice"), g.ID, move(cells[0])); err != nil {
			t.Fatalf("move %d: %v", cells[0], err)
		}
	}
	d, _ := m.Get(as("alice"), g.ID)
	if d.Game.Status != game.StatusFinished {
		t.Fatalf("expected finished game, got %s", d.Game.Status)
	}
	var s tictactoe.State
	if err := json.Unmarshal(d.Game.Metadata, &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Winner == "alice" {
		t.Fatal("hard AI must never lose")
	}
}

func TestSweepStale(t *testing.T) {
	m, store := setupTest(t)
	stale := createTicTacToe(t, m, "")
	started := createTicTacToe(t, m, "")
	if _, err := m.Join(as("bob"), started.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	// The clock advances a second per call, so a zero threshold covers every waiting game.
	n, err := m.SweepStale(context.Background(), 0)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 game cancelled, got %d", n)
	}
	g, err := store.GetGame(context.Background(), stale.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if g.Status != game.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", g.Status)
	}
	events, _ := store.Events(context.Background(), stale.ID)
	last := events[len(events)-1]
	if last.EventType != game.EventCancel || last.UserID != nil {
		t.Fatalf("expected system cancel event, got %+v", last)
	}
	r, err := m.Replay(as("alice"), stale.ID)
	if err != nil || !r.Consistent {
		t.Fatalf("expected consistent replay of expired game, got %+v, %v", r, err)
	}

	if n, _ := m.SweepStale(context.Background(), time.Hour); n != 0 {
		t.Fatalf("expected nothing left to sweep, got %d", n)
	}
}

func TestPublishesChanges(t *testing.T) {
	hub := notify.NewHub(8)
	m, _ := setupTest(t, WithPublisher(hub))
	g := createTicTacToe(t, m, "")
	ch, unsubscribe := hub.Subscribe(g.ID)
	defer unsubscribe()

	if _, err := m.Join(as("bob"), g.ID, ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	select {
	case c := <-ch:
		if c.Seq != 2 || c.EventType != game.EventJoin || c.Status != game.StatusInProgress {
			t.Fatalf("unexpected change: %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}
}

// flakyStore fails the listed Commit calls, counting from 1.
type flakyStore struct {
	*storage.Store
	mu    sync.Mutex
	calls int
	fail  map[int]error
}

func (f *flakyStore) Commit(ctx context.Context, c storage.Commit) error {
	f.mu.Lock()
	f.calls++
	err := f.fail[f.calls]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Commit(ctx, c)
}

func setupFlaky(t *testing.T, fail map[int]error) (*Manager, *flakyStore) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.AddMember(context.Background(), group, "alice"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	fs := &flakyStore{Store: store, fail: fail}
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewManager(fs, store, catalog.Registry(), WithClock(c.Now)), fs
}

func boardOf(t *testing.T, g game.Game) tictactoe.State {
	t.Helper()
	var s tictactoe.State
	if err := json.Unmarshal(g.Metadata, &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return s
}

func TestAIFollowUpRetriesAfterConflict(t *testing.T) {
	m, _ := setupFlaky(t, map[int]error{2: apperr.ErrVersionConflict})
	g := createTicTacToe(t, m, `{"opponent":"ai","difficulty":"hard"}`)

	res, err := m.Action(as("alice"), g.ID, move(0))
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.AIEvent == nil {
		t.Fatal("expected the AI reply to be retried")
	}
	if s := boardOf(t, res.Game); s.Board[4] != tictactoe.O || s.NextTurnUserID != "alice" {
		t.Fatalf("expected AI in the centre and alice to move, got %+v", s)
	}
}

func TestPendingAITurnPlayedBeforeNextAction(t *testing.T) {
	m, _ := setupFlaky(t, map[int]error{
		2: apperr.ErrVersionConflict,
		3: errors.New("disk full"),
	})
	g := createTicTacToe(t, m, `{"opponent":"ai","difficulty":"hard"}`)

	res, err := m.Action(as("alice"), g.ID, move(0))
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.AIEvent != nil {
		t.Fatal("expected the AI reply to fail")
	}
	d, err := m.Get(as("alice"), g.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s := boardOf(t, d.Game); s.NextTurnUserID != game.AIUserID(game.Hard) {
		t.Fatalf("expected the AI turn to be pending, got %+v", s)
	}

	res, err = m.Action(as("alice"), g.ID, move(8))
	if err != nil {
		t.Fatalf("move after failed AI reply: %v", err)
	}
	s := boardOf(t, res.Game)
	if s.Board[0] != tictactoe.X || s.Board[4] != tictactoe.O || s.Board[8] != tictactoe.X {
		t.Fatalf("expected pending AI move then alice's move, got %v", s.Board)
	}
	if res.AIEvent == nil || s.NextTurnUserID != "alice" {
		t.Fatalf("expected the AI to reply again and pass the turn back, got %+v", s)
	}

	r, err := m.Replay(as("alice"), g.ID)
	if err != nil || !r.Consistent {
		t.Fatalf("expected consistent replay, got %+v, %v", r, err)
	}
}

func TestSweepStaleContinuesAfterFailure(t *testing.T) {
	m, fs := setupFlaky(t, map[int]error{1: errors.New("disk full")})
	first := createTicTacToe(t, m, "")
	second := createTicTacToe(t, m, "")

	n, err := m.SweepStale(context.Background(), 0)
	if err == nil {
		t.Fatal("expected the failed expiry to be reported")
	}
	if n != 1 {
		t.Fatalf("expected 1 game cancelled, got %d", n)
	}
	for id, want := range map[string]game.Status{first.ID: game.StatusWaiting, second.ID: game.StatusCancelled} {
		g, err := fs.GetGame(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if g.Status != want {
			t.Fatalf("game %s: expected %s, got %s", id, want, g.Status)
		}
	}
}
