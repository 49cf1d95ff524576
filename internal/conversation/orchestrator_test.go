package conversation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shresthakamal/try-on/internal/assets"
	"github.com/shresthakamal/try-on/internal/inbox"
	"github.com/shresthakamal/try-on/internal/models"
	"github.com/shresthakamal/try-on/internal/session"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[models.Role]int
	fail  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref models.AssetRef, key assets.Key) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[models.Role]int)
	}
	f.calls[key.Role]++
	if f.fail != nil {
		return "", f.fail
	}
	return "/local/" + key.UserID + "/" + ref.MediaID, nil
}

func (f *fakeFetcher) count(role models.Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[role]
}

type fakeComposer struct {
	calls   atomic.Int32
	fail    error
	gotArgs []string
	block   chan struct{}
	delay   time.Duration
}

func (c *fakeComposer) Compose(ctx context.Context, personLoc, productLoc string, key assets.Key) (string, error) {
	c.calls.Add(1)
	if c.block != nil {
		<-c.block
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if c.fail != nil {
		return "", c.fail
	}
	c.gotArgs = []string{personLoc, productLoc}
	return "/local/" + key.RelativePath(), nil
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []models.OutboundMessage
	fail error
	hang bool
}

func (m *fakeMessenger) Send(ctx context.Context, msg models.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMessenger) messages() []models.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OutboundMessage(nil), m.sent...)
}

type harness struct {
	orch      *Orchestrator
	sessions  *session.MemoryStore
	cache     *assets.FilesystemCache
	fetcher   *fakeFetcher
	composer  *fakeComposer
	messenger *fakeMessenger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cache, err := assets.NewFilesystemCache(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		sessions:  session.NewMemoryStore(0, zerolog.Nop()),
		cache:     cache,
		fetcher:   &fakeFetcher{},
		composer:  &fakeComposer{},
		messenger: &fakeMessenger{},
	}
	h.orch = New(Deps{
		Sessions:  h.sessions,
		Locker:    session.NewLocker(),
		Inbox:     inbox.NewMemoryDeduper(time.Hour),
		Cache:     cache,
		Fetcher:   h.fetcher,
		Composer:  h.composer,
		Messenger: h.messenger,
	}, "https://tryon.example/", zerolog.Nop())
	return h
}

func event(messageID string, mediaID string) models.InboundEvent {
	ev := models.InboundEvent{
		AccountID: "AC1",
		From:      "whatsapp:+15550001",
		To:        "whatsapp:+15559999",
		Body:      "hi",
		MessageID: messageID,
	}
	if mediaID != "" {
		ev.NumMedia = 1
		ev.Attachment = &models.AssetRef{
			URL:       "https://api.twilio.com/2010-04-01/Accounts/AC1/Messages/" + messageID + "/Media/" + mediaID,
			MessageID: messageID,
			MediaID:   mediaID,
		}
	}
	return ev
}

func (h *harness) status(t *testing.T, ev models.InboundEvent) models.Status {
	t.Helper()
	st, err := h.sessions.Status(context.Background(), ev.UserID())
	require.NoError(t, err)
	return st
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	e1 := event("MM1", "ME-A")
	reply, err := h.orch.Handle(ctx, e1)
	require.NoError(t, err)
	assert.Equal(t, PromptSendProduct, reply.Message)
	assert.Equal(t, models.StatusAwaitingProduct, h.status(t, e1))

	reply, err = h.orch.Handle(ctx, event("MM2", "ME-B"))
	require.NoError(t, err)
	assert.Empty(t, reply.Message)
	assert.Equal(t, models.StatusResolved, h.status(t, e1))

	userID := e1.UserID()
	assert.Equal(t, 1, h.fetcher.count(models.RolePerson))
	assert.Equal(t, 1, h.fetcher.count(models.RoleProduct))
	assert.Equal(t, []string{"/local/" + userID + "/ME-A", "/local/" + userID + "/ME-B"}, h.composer.gotArgs)

	sent := h.messenger.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "whatsapp:+15559999", sent[0].From)
	assert.Equal(t, "whatsapp:+15550001", sent[0].To)
	assert.Equal(t, ResultCaption, sent[0].Body)
	assert.Equal(t, "https://tryon.example/media/"+userID+"/prediction.png", sent[0].MediaURL)
}

func TestAttachmentGapAttachmentReachesReadyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply, err := h.orch.Handle(ctx, event("MM1", "ME-A"))
	require.NoError(t, err)
	assert.Equal(t, PromptSendProduct, reply.Message)

	reply, err = h.orch.Handle(ctx, event("MM2", ""))
	require.NoError(t, err)
	assert.Equal(t, PromptSendImage, reply.Message)

	reply, err = h.orch.Handle(ctx, event("MM3", "ME-B"))
	require.NoError(t, err)
	assert.Empty(t, reply.Message, "no re-prompt after the second image")

	assert.Equal(t, int32(1), h.composer.calls.Load())
	assert.Len(t, h.messenger.messages(), 1)
}

func TestZeroAttachmentsNeverMutateSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	reply, err := h.orch.Handle(ctx, event("MM1", ""))
	require.NoError(t, err)
	assert.Equal(t, PromptSendImage, reply.Message)
	assert.Equal(t, models.StatusEmpty, h.status(t, event("MM1", "")))

	_, err = h.orch.Handle(ctx, event("MM2", "ME-A"))
	require.NoError(t, err)
	keyEvent := event("", "")
	before, err := h.sessions.Get(ctx, keyEvent.UserID())
	require.NoError(t, err)

	reply, err = h.orch.Handle(ctx, event("MM3", ""))
	require.NoError(t, err)
	assert.Equal(t, PromptSendImage, reply.Message)

	after, err := h.sessions.Get(ctx, keyEvent.UserID())
	require.NoError(t, err)
	assert.Equal(t, before.Person, after.Person)
	assert.Nil(t, after.Product)
	assert.Equal(t, models.StatusAwaitingProduct, after.Status())
}

func TestConcurrentDuplicateDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := event("MM1", "ME-A")

	var wg sync.WaitGroup
	replies := make([]models.Reply, 2)
	for i := range replies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := h.orch.Handle(ctx, ev)
			assert.NoError(t, err)
			replies[i] = r
		}(i)
	}
	wg.Wait()

	prompts := 0
	for _, r := range replies {
		if r.Message == PromptSendProduct {
			prompts++
		} else {
			assert.Empty(t, r.Message)
		}
	}
	assert.Equal(t, 1, prompts)

	sess, err := h.sessions.Get(ctx, ev.UserID())
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingProduct, sess.Status())
	assert.Equal(t, "ME-A", sess.Person.MediaID)
	assert.Nil(t, sess.Product)
}

func TestPipelineFailureStaysReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.composer.fail = errors.New("model offline")

	_, err := h.orch.Handle(ctx, event("MM1", "ME-A"))
	require.NoError(t, err)

	e2 := event("MM2", "ME-B")
	reply, err := h.orch.Handle(ctx, e2)
	require.NoError(t, err)
	assert.Equal(t, ReplyFailure, reply.Message)
	assert.Equal(t, models.StatusReady, h.status(t, e2))
	assert.Empty(t, h.messenger.messages())

	// provider redelivers the same event
	h.composer.fail = nil
	reply, err = h.orch.Handle(ctx, e2)
	require.NoError(t, err)
	assert.Empty(t, reply.Message)
	assert.Equal(t, models.StatusResolved, h.status(t, e2))
	assert.Equal(t, int32(2), h.composer.calls.Load())
	assert.Len(t, h.messenger.messages(), 1)
}

func TestFetchFailureStaysReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fetcher.fail = errors.New("404")

	_, _ = h.orch.Handle(ctx, event("MM1", "ME-A"))
	reply, err := h.orch.Handle(ctx, event("MM2", "ME-B"))
	require.NoError(t, err)
	assert.Equal(t, ReplyFailure, reply.Message)
	assert.Equal(t, int32(0), h.composer.calls.Load())
	assert.Equal(t, models.StatusReady, h.status(t, event("", "")))
}

func TestSendFailureStaysReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.messenger.fail = errors.New("provider 500")

	_, _ = h.orch.Handle(ctx, event("MM1", "ME-A"))
	reply, err := h.orch.Handle(ctx, event("MM2", "ME-B"))
	require.NoError(t, err)
	assert.Equal(t, ReplyFailure, reply.Message)
	assert.Equal(t, models.StatusReady, h.status(t, event("", "")))

	// a later message of any kind retries the pipeline
	h.messenger.fail = nil
	reply, err = h.orch.Handle(ctx, event("MM3", ""))
	require.NoError(t, err)
	assert.Empty(t, reply.Message)
	assert.Equal(t, models.StatusResolved, h.status(t, event("", "")))
}

func TestRedeliveryAfterResolveIsIgnored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.orch.Handle(ctx, event("MM1", "ME-A"))
	e2 := event("MM2", "ME-B")
	_, err := h.orch.Handle(ctx, e2)
	require.NoError(t, err)

	reply, err := h.orch.Handle(ctx, e2)
	require.NoError(t, err)
	assert.Empty(t, reply.Message)
	assert.Equal(t, models.StatusResolved, h.status(t, e2))
	assert.Len(t, h.messenger.messages(), 1)
}

func TestResolvedSessionStartsOver(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, _ = h.orch.Handle(ctx, event("MM1", "ME-A"))
	_, _ = h.orch.Handle(ctx, event("MM2", "ME-B"))

	keyEvent := event("", "")
	userID := keyEvent.UserID()
	_, err := h.cache.Store(ctx, assets.Key{UserID: userID, Role: models.RoleResult}, strings.NewReader("old"))
	require.NoError(t, err)

	reply, err := h.orch.Handle(ctx, event("MM3", ""))
	require.NoError(t, err)
	assert.Equal(t, PromptSendImage, reply.Message)
	assert.Equal(t, models.StatusResolved, h.status(t, event("", "")))

	reply, err = h.orch.Handle(ctx, event("MM4", "ME-C"))
	require.NoError(t, err)
	assert.Equal(t, PromptSendProduct, reply.Message)

	sess, err := h.sessions.Get(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "ME-C", sess.Person.MediaID)
	assert.Nil(t, sess.Product)

	_, ok, err := h.cache.Resolve(ctx, assets.Key{UserID: userID, Role: models.RoleResult})
	require.NoError(t, err)
	assert.False(t, ok, "previous result must not be reused")
}

func TestNewSessionPurgesStaleAssets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	keyEvent := event("", "")
	userID := keyEvent.UserID()

	_, err := h.cache.Store(ctx, assets.Key{UserID: userID, Role: models.RolePerson}, strings.NewReader("stale"))
	require.NoError(t, err)

	_, err = h.orch.Handle(ctx, event("MM1", "ME-A"))
	require.NoError(t, err)

	_, ok, err := h.cache.Resolve(ctx, assets.Key{UserID: userID, Role: models.RolePerson})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMalformedEvent(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.Handle(context.Background(), models.InboundEvent{MessageID: "MM1"})
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestUsersDoNotBlockEachOther(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.composer.block = make(chan struct{})

	alice := event("MA1", "ME-A")
	bob := event("MB1", "ME-B")
	bob.From = "whatsapp:+15550002"

	_, err := h.orch.Handle(ctx, alice)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		second := event("MA2", "ME-A2")
		_, _ = h.orch.Handle(ctx, second) // blocks inside composition
	}()

	require.Eventually(t, func() bool { return h.composer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	reply, err := h.orch.Handle(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, PromptSendProduct, reply.Message)

	close(h.composer.block)
	<-done
}

func TestPipelineOutlivesWebhookCaller(t *testing.T) {
	h := newHarness(t)
	h.composer.delay = 500 * time.Millisecond

	e1 := event("MM1", "ME-A")
	_, err := h.orch.Handle(context.Background(), e1)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply, err := h.orch.Handle(r.Context(), event("MM2", "ME-B"))
		if err == nil && reply.Message == "" {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client := &http.Client{Timeout: 100 * time.Millisecond}
	_, err = client.Get(srv.URL)
	require.Error(t, err, "caller gives up before the composition finishes")

	require.Eventually(t, func() bool {
		return len(h.messenger.messages()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.StatusResolved, h.status(t, e1))
	assert.Equal(t, int32(1), h.composer.calls.Load())
}

func TestLockWaitHonoursCallerContext(t *testing.T) {
	h := newHarness(t)
	h.composer.block = make(chan struct{})
	defer close(h.composer.block)

	_, err := h.orch.Handle(context.Background(), event("MM1", "ME-A"))
	require.NoError(t, err)
	go h.orch.Handle(context.Background(), event("MM2", "ME-B"))
	require.Eventually(t, func() bool { return h.composer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = h.orch.Handle(ctx, event("MM3", ""))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendIsBounded(t *testing.T) {
	h := newHarness(t)
	h.messenger.hang = true
	h.orch.sendTimeout = 50 * time.Millisecond
	ctx := context.Background()

	_, err := h.orch.Handle(ctx, event("MM1", "ME-A"))
	require.NoError(t, err)

	start := time.Now()
	e2 := event("MM2", "ME-B")
	reply, err := h.orch.Handle(ctx, e2)
	require.NoError(t, err)
	assert.Equal(t, ReplyFailure, reply.Message)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, models.StatusReady, h.status(t, e2))
}

// The remaining test runs the real fetcher and invoker against stub servers
// to check that a retried pipeline only repeats the failed stage.

type stubLocator struct{ base string }

func (l stubLocator) MediaURL(ctx context.Context, ref models.AssetRef) (string, error) {
	return l.base + "/" + ref.MediaID, nil
}

func TestRetryReusesFetchedAssets(t *testing.T) {
	var downloads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		w.Write([]byte("jpeg:" + r.URL.Path))
	}))
	defer srv.Close()

	h := newHarness(t)
	realFetcher := newRealFetcher(h.cache, stubLocator{base: srv.URL})
	composer := &fakeComposer{fail: errors.New("remote error")}
	h.orch.fetcher = realFetcher
	h.orch.composer = composer
	ctx := context.Background()

	_, _ = h.orch.Handle(ctx, event("MM1", "ME-A"))
	e2 := event("MM2", "ME-B")
	reply, err := h.orch.Handle(ctx, e2)
	require.NoError(t, err)
	assert.Equal(t, ReplyFailure, reply.Message)
	assert.Equal(t, int32(2), downloads.Load())

	composer.fail = nil
	reply, err = h.orch.Handle(ctx, e2)
	require.NoError(t, err)
	assert.Empty(t, reply.Message)

	assert.Equal(t, int32(2), downloads.Load(), "no re-fetch on retry")
	assert.Equal(t, int32(2), composer.calls.Load())
	assert.Equal(t, models.StatusResolved, h.status(t, e2))
}
