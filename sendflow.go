// Package sendflow wires the send pipeline, channel handlers, confirmation
// tracker and queue consumers into one dispatch hub.
package sendflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kart-io/sendflow/config"
	"github.com/kart-io/sendflow/core/message"
	"github.com/kart-io/sendflow/core/pipeline"
	"github.com/kart-io/sendflow/logger"
	"github.com/kart-io/sendflow/observability"
	"github.com/kart-io/sendflow/pkg/errors"
	"github.com/kart-io/sendflow/pkg/idgen"
	"github.com/kart-io/sendflow/pkg/lock"
	"github.com/kart-io/sendflow/platforms"
	"github.com/kart-io/sendflow/queue"
	"github.com/kart-io/sendflow/queue/rabbitmq"
	"github.com/kart-io/sendflow/storage"
	"github.com/kart-io/sendflow/storage/redisstore"
	"github.com/kart-io/sendflow/tracker"
)

// Hub is the assembled dispatch subsystem. Producers call Send; Run drives
// the queue consumers that deliver and reconcile.
type Hub struct {
	cfg      *config.Config
	logger   logger.Interface
	store    storage.Store
	locker   lock.Locker
	ids      *idgen.Generator
	stats    *tracker.Stats
	tracker  *tracker.Tracker
	registry *platforms.Registry
	pipe     *pipeline.Pipeline

	reconciler    *tracker.Reconciler
	publisher     queue.Publisher
	mq            *rabbitmq.Client
	sendConsumer  queue.Consumer
	delayConsumer queue.Consumer
	telemetry     *observability.Provider
}

// Option customizes hub construction
type Option func(*hubOptions)

type hubOptions struct {
	logger    logger.Interface
	store     storage.Store
	locker    lock.Locker
	publisher queue.Publisher
	principal func(ctx context.Context) int64
}

// WithLogger replaces the default logger
func WithLogger(log logger.Interface) Option {
	return func(o *hubOptions) { o.logger = log }
}

// WithStore injects a store and locker instead of connecting to Redis.
// Both must be provided together.
func WithStore(store storage.Store, locker lock.Locker) Option {
	return func(o *hubOptions) {
		o.store = store
		o.locker = locker
	}
}

// WithPublisher injects a publisher instead of connecting to RabbitMQ. A hub
// built this way has no consumers; Run reports that.
func WithPublisher(p queue.Publisher) Option {
	return func(o *hubOptions) { o.publisher = p }
}

// WithPrincipal sets the fallback sender resolver used when a request leaves
// the sender unset.
func WithPrincipal(fn func(ctx context.Context) int64) Option {
	return func(o *hubOptions) { o.principal = fn }
}

// New assembles a hub from configuration and the two lookup collaborators
func New(cfg *config.Config, templates pipeline.TemplateStore, accounts platforms.AccountStore, opts ...Option) (*Hub, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	o := &hubOptions{logger: logger.Default}
	for _, opt := range opts {
		opt(o)
	}

	h := &Hub{cfg: cfg, logger: o.logger}

	telemetry, err := observability.Setup(context.Background(), cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	h.telemetry = telemetry

	if o.store != nil {
		if o.locker == nil {
			return nil, fmt.Errorf("an injected store requires an injected locker")
		}
		h.store = o.store
		h.locker = o.locker
	} else {
		rs, err := redisstore.New(&redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		h.store = rs
		h.locker = lock.NewRedisLocker(rs.Client())
	}

	if o.publisher != nil {
		h.publisher = o.publisher
	} else {
		mq, err := rabbitmq.New(cfg.RabbitMQ, h.logger)
		if err != nil {
			return nil, err
		}
		h.mq = mq
		h.publisher = mq
		h.sendConsumer = rabbitmq.NewConsumer(mq)
		h.delayConsumer = rabbitmq.NewDelayConsumer(mq)
	}

	h.ids = idgen.New(h.store, cfg.Namespace)
	h.stats = tracker.NewStats(h.store, h.locker, h.ids, cfg.Lock.WaitTimeout, cfg.Lock.HoldTimeout, h.logger)
	h.tracker = tracker.New(h.store, h.locker, h.ids, h.stats, cfg.Lock.WaitTimeout, cfg.Lock.HoldTimeout, h.logger)
	h.reconciler = tracker.NewReconciler(h.tracker, h.logger)
	h.registry = buildRegistry(accounts, h.tracker, h.store, h.ids, cfg, h.logger)

	chain := pipeline.NewChain(templates, h.store, h.ids, h.publisher, h.stats, cfg.Delay, h.logger, o.principal)
	h.pipe = chain.Build()

	return h, nil
}

// buildRegistry installs one handler per channel, with the SMS vendors nested
// under the SMS handler.
func buildRegistry(
	accounts platforms.AccountStore,
	confirm platforms.Confirmer,
	store storage.Store,
	ids *idgen.Generator,
	cfg *config.Config,
	log logger.Interface,
) *platforms.Registry {
	timeout := cfg.Provider.Timeout
	tokens := platforms.NewTokenCache(store, ids)

	sms := platforms.NewSMSHandler(accounts, confirm, log)
	sms.RegisterProvider(platforms.NewAliyunSMS(timeout))
	sms.RegisterProvider(platforms.NewTencentSMS(timeout))

	registry := platforms.NewRegistry()
	registry.Register(platforms.NewEmailHandler(accounts, confirm, timeout, log))
	registry.Register(sms)
	registry.Register(platforms.NewDingTalkHandler(accounts, confirm, timeout, log))
	registry.Register(platforms.NewFeishuHandler(accounts, confirm, timeout, log))
	registry.Register(platforms.NewWeComHandler(accounts, confirm, timeout, log))
	registry.Register(platforms.NewWeChatMPHandler(accounts, confirm, tokens, timeout, log))
	registry.Register(platforms.NewPushHandler(accounts, confirm, tokens, timeout, log))
	return registry
}

// Send runs one request through the chain. On success the returned envelope
// is already published and recorded; the error carries the failing stage's
// structured code otherwise.
func (h *Hub) Send(ctx context.Context, req *message.SendRequest) (*message.SendContent, error) {
	st := &pipeline.State{Request: req}
	if err := h.pipe.Run(ctx, st); err != nil {
		return nil, err
	}
	return st.Content, nil
}

// Confirm exposes the tracker for out-of-band confirmations, such as provider
// callbacks handled outside the channel workers.
func (h *Hub) Confirm(ctx context.Context, sendTaskID, messageID int64, storageKey string, cause error) error {
	return h.tracker.Confirm(ctx, sendTaskID, messageID, storageKey, cause)
}

// Stats exposes the counter reader
func (h *Hub) Stats() *tracker.Stats {
	return h.stats
}

// HandleEnvelope consumes one published envelope and dispatches its tasks
func (h *Hub) HandleEnvelope(ctx context.Context, d queue.Delivery) error {
	if d.MessageType != "" && d.MessageType != message.SendCodeSend {
		h.logger.Debug(ctx, "ignoring delivery typed %q", d.MessageType)
		return nil
	}

	var envelope message.SendContent
	if err := json.Unmarshal(d.Body, &envelope); err != nil {
		return errors.Wrap(errors.CodeInvalidContext, err, "decode envelope")
	}
	return h.registry.Dispatch(ctx, &envelope)
}

// HandleDelay consumes one redelivered delay mirror and reconciles its tasks
func (h *Hub) HandleDelay(ctx context.Context, d queue.Delivery) error {
	return h.reconciler.HandleDelay(ctx, d.Body)
}

// Run blocks driving both consumers until ctx is cancelled or a consumer
// fails. Hubs built with an injected publisher have no consumers to run.
func (h *Hub) Run(ctx context.Context) error {
	if h.sendConsumer == nil || h.delayConsumer == nil {
		return fmt.Errorf("hub has no queue consumers configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	go func() { errc <- h.sendConsumer.Consume(ctx, h.HandleEnvelope) }()
	go func() { errc <- h.delayConsumer.Consume(ctx, h.HandleDelay) }()

	err := <-errc
	cancel()
	<-errc
	return err
}

// Close releases the queue connection, the store and the trace exporter
func (h *Hub) Close() error {
	if h.mq != nil {
		_ = h.mq.Close()
	}
	if h.telemetry != nil {
		_ = h.telemetry.Shutdown(context.Background())
	}
	if closer, ok := h.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
