package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/live-chess-backend/internal/archive"
	"github.com/DoyleJ11/live-chess-backend/internal/engine"
	"github.com/DoyleJ11/live-chess-backend/internal/protocol"
	"github.com/DoyleJ11/live-chess-backend/internal/rules"
)

const wait = 200 * time.Millisecond

// helper: receive one frame with a timeout so tests never hang
func recvFrame(t *testing.T, p *Peer, within time.Duration) protocol.Frame {
	t.Helper()
	select {
	case raw := <-p.Outbox():
		f, err := protocol.Decode(raw)
		require.NoError(t, err)
		return f
	case <-time.After(within):
		t.Fatalf("%s: timed out waiting for frame", p.ID)
		return protocol.Frame{} // unreachable
	}
}

func recvNoFrame(t *testing.T, p *Peer, within time.Duration) {
	t.Helper()
	select {
	case raw := <-p.Outbox():
		t.Fatalf("%s: expected no frame within %v, got %s", p.ID, within, raw)
	case <-time.After(within):
	}
}

func recvInit(t *testing.T, p *Peer) protocol.Init {
	t.Helper()
	f := recvFrame(t, p, wait)
	require.Equal(t, protocol.TypeInit, f.Type)
	var in protocol.Init
	require.NoError(t, f.Bind(&in))
	return in
}

func recvError(t *testing.T, p *Peer) string {
	t.Helper()
	f := recvFrame(t, p, wait)
	require.Equal(t, protocol.TypeError, f.Type)
	var e protocol.Error
	require.NoError(t, f.Bind(&e))
	return e.Message
}

type recordingStore struct {
	saved chan archive.Record
}

func newRecordingStore() *recordingStore {
	return &recordingStore{saved: make(chan archive.Record, 4)}
}

func (s *recordingStore) Save(_ context.Context, rec archive.Record) error {
	s.saved <- rec
	return nil
}

func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) next(t *testing.T) archive.Record {
	t.Helper()
	select {
	case rec := <-s.saved:
		return rec
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for archived record")
		return archive.Record{}
	}
}

func newTestMatch(t *testing.T, cfg Config) *Match {
	t.Helper()
	if cfg.Oracle == nil {
		cfg.Oracle = rules.NewChess()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(ctx, "abc123", cfg)
}

// startGame seats alice as white and bob as black and drains their inits.
func startGame(t *testing.T, m *Match) (alice, bob *Peer) {
	t.Helper()
	ctx := context.Background()
	alice, bob = NewPeer("alice", 8), NewPeer("bob", 8)

	require.NoError(t, m.Join(ctx, alice, engine.IntentAny))
	recvInit(t, alice)
	require.NoError(t, m.Join(ctx, bob, engine.IntentAny))
	recvInit(t, bob)
	recvInit(t, alice) // game started
	return alice, bob
}

func TestMatch_FirstJoinIsWhiteAndAwaitsOpponent(t *testing.T) {
	m := newTestMatch(t, Config{})
	alice := NewPeer("alice", 8)

	require.NoError(t, m.Join(context.Background(), alice, engine.IntentAny))
	in := recvInit(t, alice)

	assert.Equal(t, engine.White, in.Color)
	assert.False(t, in.IsSpectator)
	assert.Equal(t, "abc123", in.GameID)
	assert.Equal(t, engine.StatusAwaitingOpponent, in.Status)
	assert.Equal(t, "alice", in.Token)
	assert.Equal(t, "/play/abc123?spectator=true", in.ViewerURL)
	assert.Empty(t, in.Moves)
}

func TestMatch_SecondJoinStartsGameForEveryone(t *testing.T) {
	m := newTestMatch(t, Config{})
	ctx := context.Background()
	alice, bob := NewPeer("alice", 8), NewPeer("bob", 8)

	require.NoError(t, m.Join(ctx, alice, engine.IntentAny))
	recvInit(t, alice)
	require.NoError(t, m.Join(ctx, bob, engine.IntentPlay))

	in := recvInit(t, bob)
	assert.Equal(t, engine.Black, in.Color)
	assert.Equal(t, engine.StatusActive, in.Status)
	assert.Equal(t, engine.White, in.Turn)

	again := recvInit(t, alice)
	assert.Equal(t, engine.White, again.Color)
	assert.Equal(t, engine.StatusActive, again.Status)
}

func TestMatch_SpectatorBeforeOpponent(t *testing.T) {
	m := newTestMatch(t, Config{})
	ctx := context.Background()
	alice, carol := NewPeer("alice", 8), NewPeer("carol", 8)

	require.NoError(t, m.Join(ctx, alice, engine.IntentAny))
	recvInit(t, alice)
	require.NoError(t, m.Join(ctx, carol, engine.IntentSpectate))

	in := recvInit(t, carol)
	assert.True(t, in.IsSpectator)
	assert.Empty(t, in.Color)
	assert.Equal(t, engine.StatusAwaitingOpponent, in.Status)
	recvNoFrame(t, alice, 50*time.Millisecond)
}

func TestMatch_MoveIsBroadcastToPlayersAndSpectators(t *testing.T) {
	m := newTestMatch(t, Config{})
	alice, bob := startGame(t, m)
	carol := NewPeer("carol", 8)
	require.NoError(t, m.Join(context.Background(), carol, engine.IntentAny))
	recvInit(t, carol)

	require.NoError(t, m.Submit(context.Background(), alice, engine.Move{From: "e2", To: "e4"}))

	for _, p := range []*Peer{alice, bob, carol} {
		f := recvFrame(t, p, wait)
		require.Equal(t, protocol.TypeMove, f.Type, p.ID)
		var mv protocol.Move
		require.NoError(t, f.Bind(&mv))
		assert.Equal(t, "e2", mv.From)
		assert.Equal(t, "e4", mv.To)
		assert.Equal(t, engine.Black, mv.Turn)
		assert.Equal(t, engine.Undecided, mv.Outcome)
	}
}

func TestMatch_RejectionsGoOnlyToRequester(t *testing.T) {
	m := newTestMatch(t, Config{})
	alice, bob := startGame(t, m)
	ctx := context.Background()

	require.NoError(t, m.Submit(ctx, bob, engine.Move{From: "e7", To: "e5"}))
	assert.Equal(t, "Not your turn", recvError(t, bob))

	require.NoError(t, m.Submit(ctx, alice, engine.Move{From: "e2", To: "e5"}))
	assert.Equal(t, "Invalid move", recvError(t, alice))

	recvNoFrame(t, bob, 50*time.Millisecond)

	v, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, v.State.Moves)
	assert.Equal(t, engine.White, v.State.Turn)
}

func TestMatch_MoveBeforeOpponentIsNotStarted(t *testing.T) {
	m := newTestMatch(t, Config{})
	alice := NewPeer("alice", 8)
	require.NoError(t, m.Join(context.Background(), alice, engine.IntentAny))
	recvInit(t, alice)

	require.NoError(t, m.Submit(context.Background(), alice, engine.Move{From: "e2", To: "e4"}))
	f := recvFrame(t, alice, wait)
	assert.Equal(t, protocol.TypeGameNotStarted, f.Type)
}

func TestMatch_SpectatorCannotMove(t *testing.T) {
	m := newTestMatch(t, Config{})
	startGame(t, m)
	carol := NewPeer("carol", 8)
	require.NoError(t, m.Join(context.Background(), carol, engine.IntentSpectate))
	recvInit(t, carol)

	require.NoError(t, m.Submit(context.Background(), carol, engine.Move{From: "e2", To: "e4"}))
	assert.Equal(t, "Spectators cannot make moves", recvError(t, carol))
}

func TestMatch_PlayIntentOnFullGameIsRefused(t *testing.T) {
	m := newTestMatch(t, Config{})
	startGame(t, m)
	dave := NewPeer("dave", 8)

	err := m.Join(context.Background(), dave, engine.IntentPlay)
	require.ErrorIs(t, err, engine.ErrSessionFull)
	assert.Equal(t, "Game is full", recvError(t, dave))

	v, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v.NumPeers)
	assert.Empty(t, v.State.Spectators)
}

func TestMatch_ReconnectKeepsColorAndReplacesConnection(t *testing.T) {
	m := newTestMatch(t, Config{})
	alice, _ := startGame(t, m)
	require.NoError(t, m.Submit(context.Background(), alice, engine.Move{From: "e2", To: "e4"}))
	recvFrame(t, alice, wait)

	again := NewPeer("alice", 8)
	require.NoError(t, m.Join(context.Background(), again, engine.IntentPlay))

	in := recvInit(t, again)
	assert.Equal(t, engine.White, in.Color)
	assert.Equal(t, []string{"e2e4"}, in.Moves)
	assert.Equal(t, engine.Black, in.Turn)
	require.NotNil(t, in.LastMove)
	assert.Equal(t, "e4", in.LastMove.To)

	select {
	case <-alice.Done():
	case <-time.After(wait):
		t.Fatalf("old connection was not closed")
	}

	// The stale connection leaving must not detach the new one.
	m.Leave(alice)
	v, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v.NumPeers)
}

func TestMatch_DropSlowPeerKeepsSeat(t *testing.T) {
	m := newTestMatch(t, Config{})
	ctx := context.Background()
	alice := NewPeer("alice", 1)
	bob := NewPeer("bob", 8)

	// alice never drains, so the game-start init overflows her queue.
	require.NoError(t, m.Join(ctx, alice, engine.IntentAny))
	require.NoError(t, m.Join(ctx, bob, engine.IntentAny))

	v, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v.NumPeers)
	assert.Equal(t, "alice", v.State.White)

	select {
	case <-alice.Done():
	default:
		t.Fatalf("slow peer was not closed")
	}
}

func TestMatch_CheckmateIsArchived(t *testing.T) {
	store := newRecordingStore()
	m := newTestMatch(t, Config{Archive: store})
	alice, bob := startGame(t, m)
	ctx := context.Background()

	script := []struct {
		p    *Peer
		from string
		to   string
	}{
		{alice, "f2", "f3"}, {bob, "e7", "e5"}, {alice, "g2", "g4"}, {bob, "d8", "h4"},
	}
	var last protocol.Move
	for _, s := range script {
		require.NoError(t, m.Submit(ctx, s.p, engine.Move{From: s.from, To: s.to}))
		f := recvFrame(t, alice, wait)
		require.NoError(t, f.Bind(&last))
		recvFrame(t, bob, wait)
	}

	assert.Equal(t, engine.BlackWon, last.Outcome)

	rec := store.next(t)
	assert.Equal(t, archive.ReasonCompleted, rec.Reason)
	assert.Equal(t, engine.BlackWon, rec.Outcome)
	assert.Len(t, rec.Moves, 4)

	require.NoError(t, m.Submit(ctx, alice, engine.Move{From: "e2", To: "e4"}))
	assert.Equal(t, "Game is over", recvError(t, alice))

	v, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusOver, v.State.Status)
	assert.NotEmpty(t, v.FEN)
}

func TestMatch_TerminateNotifiesOthersAndCloses(t *testing.T) {
	store := newRecordingStore()
	closed := make(chan *Match, 1)
	m := newTestMatch(t, Config{Archive: store, OnClose: func(m *Match) { closed <- m }})
	alice, bob := startGame(t, m)
	carol := NewPeer("carol", 8)
	require.NoError(t, m.Join(context.Background(), carol, engine.IntentSpectate))
	recvInit(t, carol)

	require.NoError(t, m.Terminate(context.Background(), bob))

	for _, p := range []*Peer{alice, carol} {
		f := recvFrame(t, p, wait)
		assert.Equal(t, protocol.TypeOver, f.Type, p.ID)
	}
	recvNoFrame(t, bob, 50*time.Millisecond)

	select {
	case got := <-closed:
		assert.Same(t, m, got)
	case <-time.After(wait):
		t.Fatalf("OnClose not called")
	}
	<-m.Done()

	rec := store.next(t)
	assert.Equal(t, archive.ReasonTerminated, rec.Reason)
	assert.Equal(t, "bob", rec.Black)

	assert.ErrorIs(t, m.Submit(context.Background(), alice, engine.Move{From: "e2", To: "e4"}), ErrClosed)
}

func TestMatch_SpectatorCannotTerminate(t *testing.T) {
	m := newTestMatch(t, Config{})
	startGame(t, m)
	carol := NewPeer("carol", 8)
	require.NoError(t, m.Join(context.Background(), carol, engine.IntentSpectate))
	recvInit(t, carol)

	require.NoError(t, m.Terminate(context.Background(), carol))
	assert.Equal(t, "Spectators cannot end the game", recvError(t, carol))

	select {
	case <-m.Done():
		t.Fatalf("match closed after spectator terminate")
	default:
	}
}

func TestMatch_ExpiresWhenIdle(t *testing.T) {
	store := newRecordingStore()
	closed := make(chan struct{}, 1)
	m := newTestMatch(t, Config{
		Archive: store,
		IdleTTL: 50 * time.Millisecond,
		OnClose: func(*Match) { closed <- struct{}{} },
	})
	alice := NewPeer("alice", 8)
	require.NoError(t, m.Join(context.Background(), alice, engine.IntentAny))
	recvInit(t, alice)
	m.Leave(alice)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("idle match did not expire")
	}
	rec := store.next(t)
	assert.Equal(t, archive.ReasonExpired, rec.Reason)
}

func TestMatch_ConnectedPeerKeepsMatchAlive(t *testing.T) {
	m := newTestMatch(t, Config{IdleTTL: 50 * time.Millisecond})
	alice := NewPeer("alice", 8)
	require.NoError(t, m.Join(context.Background(), alice, engine.IntentAny))
	recvInit(t, alice)

	time.Sleep(150 * time.Millisecond)
	select {
	case <-m.Done():
		t.Fatalf("match expired with a connected peer")
	default:
	}
}

func TestMatch_ShutdownClosesPeers(t *testing.T) {
	m := newTestMatch(t, Config{})
	alice, bob := startGame(t, m)

	m.Inbox() <- Shutdown{}
	<-m.Done()

	for _, p := range []*Peer{alice, bob} {
		select {
		case <-p.Done():
		case <-time.After(wait):
			t.Fatalf("%s not closed on shutdown", p.ID)
		}
	}
}
