// Package conversation runs one inbound message through a session: commands,
// welcome, model-backed recommendation and paced outbound delivery.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"shop-assistant/internal/delivery"
	"shop-assistant/internal/domain"
	"shop-assistant/internal/segment"
	"shop-assistant/internal/session"
)

const (
	defaultSendDelay    = time.Second
	defaultModelTimeout = 30 * time.Second
	defaultMaxUtterance = 1000
)

type Recommender interface {
	Recommend(ctx context.Context, utterance string, catalog []domain.Product, history []domain.Turn) (string, error)
}

type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

// Transport delivers outbound messages. An empty id means the send is not
// tracked.
type Transport interface {
	Send(ctx context.Context, to, text string) (string, error)
	SendMedia(ctx context.Context, to, mediaURL, caption string) (string, error)
}

type CatalogProvider interface {
	Products() []domain.Product
}

type Config struct {
	MaxMessageLength   int
	SendDelay          time.Duration
	ModelTimeout       time.Duration
	TypingDelayMax     time.Duration
	MaxUtteranceLength int
}

// Inbound is one message received from a user.
type Inbound struct {
	Key         string // session key
	To          string // transport address replies go to
	Text        string
	DisplayName string
	MediaURL    string
	MediaType   string
}

type Path string

const (
	PathHelp           Path = "help"
	PathReset          Path = "reset"
	PathMedia          Path = "media"
	PathRecommendation Path = "recommendation"
	PathModerated      Path = "moderated"
	PathFailed         Path = "failed"
)

// Result describes what a turn did.
type Result struct {
	Path Path
	// Reply is the raw model output for recommendation turns.
	Reply string
	// Texts and Media hold what was handed to the transport, in send order.
	Texts []string
	Media []string
	// Failure is the classified model error on the failed path.
	Failure *Error
}

type Controller struct {
	sessions    session.Store
	locks       *session.Locks
	tracker     delivery.Tracker
	recommender Recommender
	moderator   Moderator
	catalog     CatalogProvider
	messages    Messages
	cfg         Config
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

type Option func(*Controller)

// WithModerator screens user text before it reaches the recommender.
func WithModerator(m Moderator) Option {
	return func(c *Controller) {
		c.moderator = m
	}
}

func WithMessages(m Messages) Option {
	return func(c *Controller) {
		c.messages = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSleep replaces the pause used for pacing and typing delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLocks shares a lock table between controllers that use the same store.
func WithLocks(l *session.Locks) Option {
	return func(c *Controller) {
		if l != nil {
			c.locks = l
		}
	}
}

func NewController(store session.Store, tracker delivery.Tracker, rec Recommender, catalog CatalogProvider, cfg Config, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("conversation: session store must not be nil")
	}
	if tracker == nil {
		return nil, errors.New("conversation: delivery tracker must not be nil")
	}
	if rec == nil {
		return nil, errors.New("conversation: recommender must not be nil")
	}
	if catalog == nil {
		return nil, errors.New("conversation: catalog must not be nil")
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = segment.DefaultLimit
	}
	if cfg.SendDelay < 0 {
		cfg.SendDelay = 0
	} else if cfg.SendDelay == 0 {
		cfg.SendDelay = defaultSendDelay
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = defaultModelTimeout
	}
	if cfg.MaxUtteranceLength <= 0 {
		cfg.MaxUtteranceLength = defaultMaxUtterance
	}
	c := &Controller{
		sessions:    store,
		locks:       session.NewLocks(),
		tracker:     tracker,
		recommender: rec,
		catalog:     catalog,
		messages:    DefaultMessages(),
		cfg:         cfg,
		logger:      slog.Default(),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Process handles one inbound message to completion, including every
// outbound send. Turns that share a session key run one at a time.
func (c *Controller) Process(ctx context.Context, in Inbound, t Transport) (Result, error) {
	in.Key = strings.TrimSpace(in.Key)
	in.To = strings.TrimSpace(in.To)
	in.Text = strings.TrimSpace(in.Text)
	in.MediaURL = strings.TrimSpace(in.MediaURL)
	if err := c.validate(in, t); err != nil {
		return Result{}, err
	}

	unlock, err := c.locks.Lock(ctx, in.Key)
	if err != nil {
		return Result{}, NewError(ErrorInternal, "session_lock_cancelled", err)
	}
	defer unlock()

	out := &outbox{c: c, t: t, to: in.To, key: in.Key}

	if in.Text == "" {
		out.res.Path = PathMedia
		c.logger.Info("media message without caption", "session", in.Key, "media_type", in.MediaType)
		return out.result(out.text(ctx, c.messages.MediaAck(in.MediaType)))
	}

	if c.messages.IsHelp(in.Text) {
		out.res.Path = PathHelp
		return out.result(out.text(ctx, c.messages.Help))
	}

	if c.messages.IsReset(in.Text) {
		out.res.Path = PathReset
		if err := c.sessions.Clear(ctx, in.Key); err != nil {
			return out.result(c.storeFailure(ctx, out, "session_clear_error", err))
		}
		return out.result(out.text(ctx, c.messages.Welcome))
	}

	return out.result(c.converse(ctx, out, in))
}

func (c *Controller) validate(in Inbound, t Transport) error {
	if t == nil {
		return NewError(ErrorInvalidInput, "missing_transport", nil)
	}
	if in.Key == "" {
		return NewError(ErrorInvalidInput, "invalid_session_key", nil)
	}
	if in.To == "" {
		return NewError(ErrorInvalidInput, "missing_recipient", nil)
	}
	if in.Text == "" && in.MediaURL == "" {
		return NewError(ErrorInvalidInput, "empty_message", nil)
	}
	if segment.Len(in.Text) > c.cfg.MaxUtteranceLength {
		return NewError(ErrorInvalidInput, "message_too_long", nil)
	}
	return nil
}

func (c *Controller) converse(ctx context.Context, out *outbox, in Inbound) error {
	history, err := c.sessions.Get(ctx, in.Key)
	if err != nil {
		return c.storeFailure(ctx, out, "session_read_error", err)
	}

	if len(history) == 0 {
		if err := out.text(ctx, c.messages.Welcome); err != nil {
			return err
		}
		welcome := domain.AssistantTurn(c.messages.Welcome)
		if err := c.sessions.Append(ctx, in.Key, welcome); err != nil {
			return c.storeFailure(ctx, out, "session_write_error", err)
		}
		history = append(history, welcome)
	}

	user := domain.UserTurn(in.Text, in.DisplayName)
	if err := c.sessions.Append(ctx, in.Key, user); err != nil {
		return c.storeFailure(ctx, out, "session_write_error", err)
	}
	history = append(history, user)

	if c.moderator != nil {
		flagged, err := c.moderator.Moderate(ctx, in.Text)
		if err != nil {
			return c.modelFailure(ctx, out, err)
		}
		if flagged {
			out.res.Path = PathModerated
			c.logger.Warn("message flagged by moderation", "session", in.Key)
			return out.text(ctx, c.messages.Moderated)
		}
	}

	if d := typingDelay(in.Text, c.cfg.TypingDelayMax); d > 0 {
		if err := c.sleep(ctx, d); err != nil {
			return NewError(ErrorSendFailed, "send_cancelled", err)
		}
	}

	reply, err := c.recommend(ctx, in.Text, history)
	if err != nil {
		return c.modelFailure(ctx, out, err)
	}

	out.res.Path = PathRecommendation
	out.res.Reply = reply
	if err := c.sessions.Append(ctx, in.Key, domain.AssistantTurn(reply)); err != nil {
		return c.storeFailure(ctx, out, "session_write_error", err)
	}

	body, images := ExtractImages(reply)
	if err := out.text(ctx, WhatsAppMarkdown(body)); err != nil {
		return err
	}
	for _, u := range images {
		if err := out.media(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) recommend(ctx context.Context, utterance string, history []domain.Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ModelTimeout)
	defer cancel()

	reply, err := c.recommender.Recommend(ctx, utterance, c.catalog.Products(), history)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", NewError(ErrorMalformedResponse, "empty_recommendation", nil)
	}
	return reply, nil
}

func (c *Controller) modelFailure(ctx context.Context, out *outbox, err error) error {
	var classified *Error
	if !errors.As(err, &classified) {
		classified = NewError(ErrorUpstreamUnavailable, "recommender_error", err)
	}
	out.res.Path = PathFailed
	out.res.Failure = classified
	c.logger.Error("recommendation failed", "session", out.key, "code", classified.Code, "reason", classified.Reason, "err", err)
	return out.text(ctx, c.messages.ErrorText(classified))
}

func (c *Controller) storeFailure(ctx context.Context, out *outbox, reason string, err error) error {
	c.logger.Error("session store failed", "session", out.key, "reason", reason, "err", err)
	out.bestEffort(ctx, c.messages.GenericError)
	return NewError(ErrorInternal, reason, err)
}

// History returns the stored turns for key.
func (c *Controller) History(ctx context.Context, key string) ([]domain.Turn, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, NewError(ErrorInvalidInput, "invalid_session_key", nil)
	}
	turns, err := c.sessions.Get(ctx, key)
	if err != nil {
		return nil, NewError(ErrorInternal, "session_read_error", err)
	}
	return turns, nil
}

// Clear drops the history for key. It waits for an in-flight turn on the
// same key to finish first.
func (c *Controller) Clear(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return NewError(ErrorInvalidInput, "invalid_session_key", nil)
	}
	unlock, err := c.locks.Lock(ctx, key)
	if err != nil {
		return NewError(ErrorInternal, "session_lock_cancelled", err)
	}
	defer unlock()
	if err := c.sessions.Clear(ctx, key); err != nil {
		return NewError(ErrorInternal, "session_clear_error", err)
	}
	return nil
}

// outbox paces the sends of one turn and records them in the tracker.
type outbox struct {
	c      *Controller
	t      Transport
	to     string
	key    string
	sends  int
	failed bool
	res    Result
}

func (o *outbox) result(err error) (Result, error) {
	return o.res, err
}

func (o *outbox) pace(ctx context.Context) error {
	if o.sends == 0 || o.c.cfg.SendDelay <= 0 {
		return nil
	}
	return o.c.sleep(ctx, o.c.cfg.SendDelay)
}

// text segments s and sends every chunk in order. The first failure stops
// the turn and triggers one best-effort error reply.
func (o *outbox) text(ctx context.Context, s string) error {
	chunks := chunksFor(s, o.c.cfg.MaxMessageLength)
	for i, chunk := range chunks {
		if err := o.pace(ctx); err != nil {
			o.c.logger.Warn("sends skipped", "session", o.key, "remaining", len(chunks)-i, "err", err)
			return NewError(ErrorSendFailed, "send_cancelled", err)
		}
		id, err := o.t.Send(ctx, o.to, chunk)
		if err != nil {
			return o.sendFailure(ctx, err)
		}
		o.sends++
		o.res.Texts = append(o.res.Texts, chunk)
		o.track(ctx, id, i+1, len(chunks))
	}
	return nil
}

func (o *outbox) media(ctx context.Context, mediaURL string) error {
	if err := o.pace(ctx); err != nil {
		o.c.logger.Warn("media send skipped", "session", o.key, "url", mediaURL, "err", err)
		return NewError(ErrorSendFailed, "send_cancelled", err)
	}
	id, err := o.t.SendMedia(ctx, o.to, mediaURL, "")
	if err != nil {
		return o.sendFailure(ctx, err)
	}
	o.sends++
	o.res.Media = append(o.res.Media, mediaURL)
	o.track(ctx, id, 1, 1)
	return nil
}

func (o *outbox) track(ctx context.Context, id string, chunk, total int) {
	if id == "" {
		return
	}
	if err := o.c.tracker.Record(ctx, id, o.to, chunk, total); err != nil {
		o.c.logger.Error("record delivery", "session", o.key, "id", id, "err", err)
	}
}

func (o *outbox) sendFailure(ctx context.Context, err error) error {
	classified := classifySendError(err)
	o.c.logger.Error("send failed", "session", o.key, "to", o.to, "code", classified.Code, "err", err)
	o.bestEffort(ctx, o.c.messages.GenericError)
	return classified
}

// bestEffort sends text once without pacing, tracking or error propagation.
func (o *outbox) bestEffort(ctx context.Context, text string) {
	if o.failed {
		return
	}
	o.failed = true
	for _, chunk := range chunksFor(text, o.c.cfg.MaxMessageLength) {
		id, err := o.t.Send(ctx, o.to, chunk)
		if err != nil {
			o.c.logger.Warn("error reply not delivered", "session", o.key, "err", err)
			return
		}
		o.res.Texts = append(o.res.Texts, chunk)
		o.track(ctx, id, 1, 1)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
