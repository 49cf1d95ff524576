// Package conversation runs the per-user try-on state machine:
// EMPTY -> AWAITING_PRODUCT -> READY -> RESOLVED.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/shresthakamal/try-on/internal/assets"
	"github.com/shresthakamal/try-on/internal/inbox"
	"github.com/shresthakamal/try-on/internal/metrics"
	"github.com/shresthakamal/try-on/internal/models"
	"github.com/shresthakamal/try-on/internal/session"
)

// Fetcher downloads a provider asset into the cache.
type Fetcher interface {
	Fetch(ctx context.Context, ref models.AssetRef, key assets.Key) (string, error)
}

// Composer produces the try-on image for two cached assets.
type Composer interface {
	Compose(ctx context.Context, personLoc, productLoc string, key assets.Key) (string, error)
}

// Messenger sends proactive messages through the provider.
type Messenger interface {
	Send(ctx context.Context, msg models.OutboundMessage) error
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Sessions  session.Store
	Locker    *session.Locker
	Inbox     inbox.Deduper
	Cache     assets.Cache
	Fetcher   Fetcher
	Composer  Composer
	Messenger Messenger

	// SendTimeout bounds the proactive result message. Zero means no bound.
	SendTimeout time.Duration
}

// Orchestrator handles one inbound event per call.
type Orchestrator struct {
	sessions    session.Store
	locker      *session.Locker
	inbox       inbox.Deduper
	cache       assets.Cache
	fetcher     Fetcher
	composer    Composer
	messenger   Messenger
	sendTimeout time.Duration
	baseURL     string
	logger      zerolog.Logger
}

// New creates an Orchestrator. publicBaseURL prefixes the /media links sent
// to users.
func New(deps Deps, publicBaseURL string, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		sessions:    deps.Sessions,
		locker:      deps.Locker,
		inbox:       deps.Inbox,
		cache:       deps.Cache,
		fetcher:     deps.Fetcher,
		composer:    deps.Composer,
		messenger:   deps.Messenger,
		sendTimeout: deps.SendTimeout,
		baseURL:     strings.TrimRight(publicBaseURL, "/"),
		logger:      logger.With().Str("component", "conversation").Logger(),
	}
}

// Handle advances the sender's session by one event and returns the reply.
// Fetch, composition and send failures become a failure reply; the returned
// error is reserved for malformed events and infrastructure faults. ctx only
// bounds the wait for the user's lock.
func (o *Orchestrator) Handle(ctx context.Context, ev models.InboundEvent) (models.Reply, error) {
	if ev.AccountID == "" || ev.From == "" {
		return models.Reply{}, &ProtocolError{Reason: "missing account or sender"}
	}
	userID := ev.UserID()

	o.logger.Info().
		Str("user", userID).
		Str("from", ev.From).
		Str("to", ev.To).
		Str("body", ev.Body).
		Int("num_media", ev.NumMedia).
		Msg("inbound event")

	if ev.NumMedia > 0 && ev.Attachment == nil {
		o.logger.Warn().Str("user", userID).Msg("media count without attachment, treating as no image")
	}

	// Everything below, pipeline included, runs under the user's lock.
	unlock, err := o.locker.Lock(ctx, userID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("acquire session lock: %w", err)
	}
	defer unlock()

	// Once the lock is held the work must finish even if the provider hangs
	// up; every external call below carries its own timeout.
	ctx = context.WithoutCancel(ctx)

	if ev.MessageID != "" {
		seen, err := o.inbox.Seen(ctx, ev.MessageID)
		if err != nil {
			return models.Reply{}, fmt.Errorf("dedupe lookup: %w", err)
		}
		if seen {
			metrics.DuplicateEvents.Inc()
			o.logger.Info().Str("user", userID).Str("message_sid", ev.MessageID).Msg("duplicate event ignored")
			return models.Reply{}, nil
		}
	}

	sess, created, err := o.sessions.GetOrCreate(ctx, userID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("load session: %w", err)
	}
	if created {
		// A new session must never pick up assets of an earlier one.
		if err := o.cache.Purge(ctx, userID); err != nil {
			return models.Reply{}, fmt.Errorf("purge stale assets: %w", err)
		}
	}

	state := sess.Status()
	metrics.InboundEvents.WithLabelValues(string(state)).Inc()

	var reply models.Reply
	switch state {
	case models.StatusEmpty:
		reply, err = o.collectPerson(ctx, userID, ev)

	case models.StatusAwaitingProduct:
		if ev.Attachment == nil {
			reply = models.Reply{Message: PromptSendImage}
			break
		}
		if _, err = o.sessions.RecordProduct(ctx, userID, *ev.Attachment); err != nil {
			return models.Reply{}, fmt.Errorf("record product: %w", err)
		}
		o.logTransition(userID, state, models.StatusReady)
		return o.resolve(ctx, userID, ev)

	case models.StatusReady:
		// Any event while READY is a retry of the pipeline.
		return o.resolve(ctx, userID, ev)

	case models.StatusResolved:
		if ev.Attachment == nil {
			reply = models.Reply{Message: PromptSendImage}
			break
		}
		if err = o.sessions.Reset(ctx, userID); err != nil {
			return models.Reply{}, fmt.Errorf("reset session: %w", err)
		}
		if err = o.cache.Purge(ctx, userID); err != nil {
			return models.Reply{}, fmt.Errorf("purge assets: %w", err)
		}
		o.logTransition(userID, state, models.StatusEmpty)
		reply, err = o.collectPerson(ctx, userID, ev)
	}
	if err != nil {
		return models.Reply{}, err
	}

	if err := o.markHandled(ctx, ev); err != nil {
		return models.Reply{}, err
	}
	return reply, nil
}

func (o *Orchestrator) collectPerson(ctx context.Context, userID string, ev models.InboundEvent) (models.Reply, error) {
	if ev.Attachment == nil {
		return models.Reply{Message: PromptSendImage}, nil
	}
	if _, err := o.sessions.RecordPerson(ctx, userID, *ev.Attachment); err != nil {
		return models.Reply{}, fmt.Errorf("record person: %w", err)
	}
	o.logTransition(userID, models.StatusEmpty, models.StatusAwaitingProduct)
	return models.Reply{Message: PromptSendProduct}, nil
}

// resolve runs the pipeline for a READY session. On failure the session stays
// READY and the event is left unmarked so a redelivery retries it.
func (o *Orchestrator) resolve(ctx context.Context, userID string, ev models.InboundEvent) (models.Reply, error) {
	sess, err := o.sessions.Get(ctx, userID)
	if err != nil {
		return models.Reply{}, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.Status() != models.StatusReady {
		return models.Reply{}, fmt.Errorf("resolve: %w", session.ErrNotFound)
	}

	runID := ulid.Make().String()
	logger := o.logger.With().Str("user", userID).Str("run_id", runID).Logger()
	logger.Info().Msg("both images received, running try-on pipeline")

	if err := o.runPipeline(ctx, sess, ev); err != nil {
		metrics.PipelineRuns.WithLabelValues("failure").Inc()
		logger.Error().Err(err).Msg("try-on pipeline failed")
		return models.Reply{Message: ReplyFailure}, nil
	}
	metrics.PipelineRuns.WithLabelValues("success").Inc()

	if err := o.sessions.MarkResolved(ctx, userID); err != nil {
		return models.Reply{}, fmt.Errorf("mark resolved: %w", err)
	}
	o.logTransition(userID, models.StatusReady, models.StatusResolved)

	if err := o.markHandled(ctx, ev); err != nil {
		return models.Reply{}, err
	}
	return models.Reply{}, nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, sess *models.Session, ev models.InboundEvent) error {
	userID := sess.UserID
	var personLoc, productLoc string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loc, err := o.fetcher.Fetch(gctx, *sess.Person, assets.Key{UserID: userID, Role: models.RolePerson})
		personLoc = loc
		return err
	})
	g.Go(func() error {
		loc, err := o.fetcher.Fetch(gctx, *sess.Product, assets.Key{UserID: userID, Role: models.RoleProduct})
		productLoc = loc
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	resultKey := assets.Key{UserID: userID, Role: models.RoleResult}
	if _, err := o.composer.Compose(ctx, personLoc, productLoc, resultKey); err != nil {
		return err
	}

	msg := models.OutboundMessage{
		From:     ev.To,
		To:       ev.From,
		Body:     ResultCaption,
		MediaURL: o.baseURL + "/media/" + resultKey.RelativePath(),
	}
	sendCtx := ctx
	if o.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, o.sendTimeout)
		defer cancel()
	}
	if err := o.messenger.Send(sendCtx, msg); err != nil {
		return fmt.Errorf("send result: %w", err)
	}
	return nil
}

func (o *Orchestrator) markHandled(ctx context.Context, ev models.InboundEvent) error {
	if ev.MessageID == "" {
		return nil
	}
	if err := o.inbox.Mark(ctx, ev.MessageID); err != nil {
		return fmt.Errorf("mark handled: %w", err)
	}
	return nil
}

func (o *Orchestrator) logTransition(userID string, from, to models.Status) {
	o.logger.Info().
		Str("user", userID).
		Str("from", string(from)).
		Str("state", string(to)).
		Msg("session transition")
}
