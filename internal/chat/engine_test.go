package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raylabs/chatcore/internal/auth"
	"github.com/raylabs/chatcore/internal/domain"
	"github.com/raylabs/chatcore/internal/stream"
)

// scriptedHandle satisfies stream.CancelHandle for engine tests.
type scriptedHandle struct {
	mu        sync.Mutex
	stopped   bool
	cancelled bool
	done      chan struct{}
}

func newScriptedHandle() *scriptedHandle {
	return &scriptedHandle{done: make(chan struct{})}
}

func (h *scriptedHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	h.cancelled = true
	close(h.done)
}

func (h *scriptedHandle) finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.done)
}

func (h *scriptedHandle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

func (h *scriptedHandle) Done() <-chan struct{} { return h.done }

// fakeOpener replays a script against the engine's callbacks.
type fakeOpener struct {
	script  func(cb stream.Callbacks, h *scriptedHandle)
	lastReq domain.StreamRequest
	handle  *scriptedHandle
}

func (f *fakeOpener) Open(ctx context.Context, req domain.StreamRequest, cred auth.Credential, cb stream.Callbacks) stream.CancelHandle {
	f.lastReq = req
	h := newScriptedHandle()
	f.handle = h
	go f.script(cb, h)
	return h
}

// fakeStore records collaborator calls.
type fakeStore struct {
	mu            sync.Mutex
	createCalls   int
	createErr     error
	titles        []string
	appended      []domain.ConversationTurn
	appendSession []string
}

func (f *fakeStore) CreateSession(ctx context.Context, title string) (domain.SessionRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return domain.SessionRef{}, f.createErr
	}
	return domain.SessionRef{ID: "sess-1", Title: title}, nil
}

func (f *fakeStore) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeStore) AppendMessage(ctx context.Context, sessionID string, turn domain.ConversationTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, turn)
	f.appendSession = append(f.appendSession, sessionID)
	return nil
}

func (f *fakeStore) appendedRoles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	roles := make([]string, len(f.appended))
	for i, turn := range f.appended {
		roles[i] = turn.Role
	}
	return roles
}

type fakeUpgrade struct {
	mu      sync.Mutex
	reasons []QuotaReason
}

func (f *fakeUpgrade) PromptUpgrade(reason QuotaReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

func testTokens(t *testing.T) *auth.TokenCache {
	t.Helper()
	return auth.NewTokenCache(auth.StaticProvider("tok"), time.Hour)
}

func newTestEngine(t *testing.T, opener *fakeOpener, store *fakeStore, upgrade *fakeUpgrade) *Engine {
	t.Helper()
	return NewEngine(Deps{
		Tokens:  testTokens(t),
		Streams: opener,
		Store:   store,
		Upgrade: upgrade,
		Options: Options{Model: "test-model", Temperature: 0.7, MaxTokens: 1000},
	})
}

func TestEngine_SendCompletes(t *testing.T) {
	opener := &fakeOpener{script: func(cb stream.Callbacks, h *scriptedHandle) {
		cb.OnToken("Hel")
		cb.OnToken("lo")
		cb.OnUsage(domain.TokenUsage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6})
		cb.OnDone()
		h.finish()
	}}
	store := &fakeStore{}
	engine := newTestEngine(t, opener, store, &fakeUpgrade{})

	turn, err := engine.Send(context.Background(), "hello there engine", nil)
	require.NoError(t, err)

	assert.Equal(t, domain.TurnComplete, turn.Status)
	assert.Equal(t, "Hello", turn.Content)
	require.NotNil(t, turn.Usage)
	assert.Equal(t, 6, turn.Usage.TotalTokens)

	assert.Equal(t, 1, store.createCalls)
	assert.Equal(t, []string{domain.RoleUser, domain.RoleAssistant}, store.appendedRoles())
	assert.Equal(t, []string{"sess-1", "sess-1"}, store.appendSession)
	assert.Equal(t, "sess-1", engine.SessionID())

	// Title derived from the first user message after the first completed
	// assistant turn.
	assert.Equal(t, []string{"hello there engine"}, store.titles)

	assert.Equal(t, "test-model", opener.lastReq.Model)
	assert.Equal(t, 1000, opener.lastReq.MaxTokens)
	require.Len(t, opener.lastReq.Messages, 1)
	assert.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Content: "hello there engine"}, opener.lastReq.Messages[0])
}

func TestEngine_SecondSendReusesSessionAndTitle(t *testing.T) {
	opener := &fakeOpener{script: func(cb stream.Callbacks, h *scriptedHandle) {
		cb.OnToken("ok")
		cb.OnDone()
		h.finish()
	}}
	store := &fakeStore{}
	engine := newTestEngine(t, opener, store, &fakeUpgrade{})

	_, err := engine.Send(context.Background(), "first", nil)
	require.NoError(t, err)
	_, err = engine.Send(context.Background(), "second", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, store.createCalls)
	assert.Len(t, store.titles, 1)

	// The second request carries the whole history.
	require.Len(t, opener.lastReq.Messages, 3)
	assert.Equal(t, "second", opener.lastReq.Messages[2].Content)
}

func TestEngine_QuotaDailyRemovesTurnAndPrompts(t *testing.T) {
	opener := &fakeOpener{script: func(cb stream.Callbacks, h *scriptedHandle) {
		cb.OnError(&domain.StatusError{Code: 402, Detail: "Daily limit reached"})
		h.finish()
	}}
	store := &fakeStore{}
	upgrade := &fakeUpgrade{}
	engine := newTestEngine(t, opener, store, upgrade)

	_, err := engine.Send(context.Background(), "q", nil)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)

	assert.Equal(t, []QuotaReason{QuotaDaily}, upgrade.reasons)

	// The partial assistant turn is removed, not shown as errored.
	turns := engine.Timeline().Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, domain.RoleUser, turns[0].Role)

	// Only the user turn was persisted.
	assert.Equal(t, []string{domain.RoleUser}, store.appendedRoles())
}

func TestEngine_QuotaMonthlyLeavesErroredTurn(t *testing.T) {
	opener := &fakeOpener{script: func(cb stream.Callbacks, h *scriptedHandle) {
		cb.OnError(&domain.StatusError{Code: 402, Detail: "Monthly limit reached for pro plan. Please upgrade."})
		h.finish()
	}}
	store := &fakeStore{}
	upgrade := &fakeUpgrade{}
	engine := newTestEngine(t, opener, store, upgrade)

	turn, err := engine.Send(context.Background(), "q", nil)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)

	assert.Equal(t, []QuotaReason{QuotaMonthly}, upgrade.reasons)
	assert.Equal(t, domain.TurnErrored, turn.Status)
	assert.Equal(t, GenericFailureText, turn.Content)
}

func TestEngine_TransientFailureLeavesErroredTurn(t *testing.T) {
	opener := &fakeOpener{script: func(cb stream.Callbacks, h *scriptedHandle) {
		cb.OnToken("par")
		cb.OnError(&domain.StatusError{Code: 503})
		h.finish()
	}}
	store := &fakeStore{}
	upgrade := &fakeUpgrade{}
	engine := newTestEngine(t, opener, store, upgrade)

	turn, err := engine.Send(context.Background(), "q", nil)
	require.Error(t, err)

	assert.Equal(t, domain.TurnErrored, turn.Status)
	assert.Equal(t, GenericFailureText, turn.Content)
	assert.Empty(t, upgrade.reasons)
	assert.Equal(t, []string{domain.RoleUser}, store.appendedRoles())
}

func TestEngine_StopCancelsInFlightSend(t *testing.T) {
	streaming := make(chan struct{})
	opener := &fakeOpener{script: func(cb stream.Callbacks, h *scriptedHandle) {
		cb.OnToken("one")
		cb.OnToken("two")
		close(streaming)
		// No terminal event: the stream hangs until cancelled.
	}}
	store := &fakeStore{}
	engine := newTestEngine(t, opener, store, &fakeUpgrade{})

	type result struct {
		turn domain.ConversationTurn
		err  error
	}
	results := make(chan result, 1)
	go func() {
		turn, err := engine.Send(context.Background(), "q", nil)
		results <- result{turn, err}
	}()

	<-streaming
	engine.Stop()

	select {
	case res := <-results:
		require.NoError(t, res.err)
		assert.Equal(t, domain.TurnCancelled, res.turn.Status)
		assert.Equal(t, StoppedByUserText, res.turn.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after Stop")
	}

	// A cancelled turn is never persisted.
	assert.Equal(t, []string{domain.RoleUser}, store.appendedRoles())

	// Stop with nothing in flight is a no-op.
	engine.Stop()
}

func TestEngine_SessionCreationFailure(t *testing.T) {
	opener := &fakeOpener{script: func(cb stream.Callbacks, h *scriptedHandle) {
		t.Error("stream must not open without a session")
	}}
	store := &fakeStore{createErr: errors.New("backend down")}
	engine := newTestEngine(t, opener, store, &fakeUpgrade{})

	turn, err := engine.Send(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Equal(t, domain.TurnErrored, turn.Status)
	assert.Empty(t, store.appendedRoles())
}

func TestEngine_AuthUnavailable(t *testing.T) {
	opener := &fakeOpener{script: func(cb stream.Callbacks, h *scriptedHandle) {
		t.Error("stream must not open without a credential")
	}}
	store := &fakeStore{}
	tokens := auth.NewTokenCache(func(ctx context.Context) (auth.Credential, error) {
		return auth.Credential{}, errors.New("idp down")
	}, time.Hour)
	engine := NewEngine(Deps{
		Tokens:  tokens,
		Streams: opener,
		Store:   store,
		Options: Options{Model: "m"},
	})

	turn, err := engine.Send(context.Background(), "q", nil)
	require.ErrorIs(t, err, domain.ErrAuthUnavailable)
	assert.Equal(t, domain.TurnErrored, turn.Status)
}

func TestEngine_TokenSinkReceivesDeltas(t *testing.T) {
	opener := &fakeOpener{script: func(cb stream.Callbacks, h *scriptedHandle) {
		cb.OnToken("a")
		cb.OnToken("b")
		cb.OnDone()
		h.finish()
	}}
	store := &fakeStore{}

	var mu sync.Mutex
	var sunk []string
	engine := NewEngine(Deps{
		Tokens:  testTokens(t),
		Streams: opener,
		Store:   store,
		Options: Options{Model: "m"},
		TokenSink: func(delta string) {
			mu.Lock()
			sunk = append(sunk, delta)
			mu.Unlock()
		},
	})

	_, err := engine.Send(context.Background(), "q", nil)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, sunk)
}

func TestEngine_Resume(t *testing.T) {
	opener := &fakeOpener{script: func(cb stream.Callbacks, h *scriptedHandle) {
		cb.OnToken("ok")
		cb.OnDone()
		h.finish()
	}}
	store := &fakeStore{}
	engine := newTestEngine(t, opener, store, &fakeUpgrade{})

	engine.Resume("sess-9", []domain.ConversationTurn{
		{Role: domain.RoleUser, Content: "old q", Status: domain.TurnComplete},
		{Role: domain.RoleAssistant, Content: "old a", Status: domain.TurnComplete},
	})

	_, err := engine.Send(context.Background(), "new q", nil)
	require.NoError(t, err)

	// No creation call, no re-titling for a resumed session.
	assert.Equal(t, 0, store.createCalls)
	assert.Empty(t, store.titles)
	assert.Equal(t, []string{"sess-9", "sess-9"}, store.appendSession)
	require.Len(t, opener.lastReq.Messages, 3)
}
