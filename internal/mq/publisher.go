// Package mq publishes controller events to RocketMQ.
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	rocketmq "github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"inferd/internal/controller"
)

const (
	defaultBuffer      = 1024
	defaultSendTimeout = 3 * time.Second
	defaultRetries     = 2
)

var log = zerolog.Nop()

// SetLogger installs a structured logger used by the publisher.
func SetLogger(l zerolog.Logger) { log = l.With().Str("component", "mq").Logger() }

var eventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Controller events handed to the message queue by result",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(eventsTotal)
}

// Config configures the RocketMQ producer.
type Config struct {
	NameServers []string
	Topic       string
	Group       string
	Retries     int
	Buffer      int
}

// sender is the subset of rocketmq.Producer the publisher uses.
type sender interface {
	SendSync(ctx context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error)
	Shutdown() error
}

// Publisher is a controller.EventPublisher backed by a RocketMQ producer.
// Publish enqueues and returns immediately; a background goroutine sends.
// Events are dropped when the buffer is full.
type Publisher struct {
	topic  string
	sender sender

	mu     sync.RWMutex
	closed bool
	ch     chan controller.Event
	done   chan struct{}

	// sendCtx parents every send; cancelling it makes the loop discard
	// what is still queued.
	sendCtx    context.Context
	cancelSend context.CancelFunc
}

// New starts a RocketMQ producer and the send loop.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.NameServers) == 0 {
		return nil, errors.New("mq: no name servers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("mq: topic is required")
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	opts := []producer.Option{
		producer.WithNsResolver(primitive.NewPassthroughResolver(cfg.NameServers)),
		producer.WithRetry(retries),
	}
	if cfg.Group != "" {
		opts = append(opts, producer.WithGroupName(cfg.Group))
	}
	p, err := rocketmq.NewProducer(opts...)
	if err != nil {
		return nil, fmt.Errorf("mq: create producer: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("mq: start producer: %w", err)
	}
	log.Info().Strs("name_servers", cfg.NameServers).Str("topic", cfg.Topic).Msg("rocketmq producer started")
	return newPublisher(p, cfg.Topic, cfg.Buffer), nil
}

func newPublisher(s sender, topic string, buffer int) *Publisher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	p := &Publisher{
		topic:  topic,
		sender: s,
		ch:     make(chan controller.Event, buffer),
		done:   make(chan struct{}),
	}
	p.sendCtx, p.cancelSend = context.WithCancel(context.Background())
	go p.loop()
	return p
}

// Publish enqueues e without blocking.
func (p *Publisher) Publish(e controller.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- e:
	default:
		eventsTotal.WithLabelValues("dropped").Inc()
	}
}

func (p *Publisher) loop() {
	defer close(p.done)
	for e := range p.ch {
		if p.sendCtx.Err() != nil {
			eventsTotal.WithLabelValues("discarded").Inc()
			continue
		}
		p.send(e)
	}
}

func (p *Publisher) send(e controller.Event) {
	body, err := json.Marshal(e)
	if err != nil {
		eventsTotal.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("event", e.Name).Msg("encode event")
		return
	}
	msg := primitive.NewMessage(p.topic, body).WithTag(e.Name)
	if e.InputID != "" {
		msg = msg.WithKeys([]string{e.InputID})
	}
	ctx, cancel := context.WithTimeout(p.sendCtx, defaultSendTimeout)
	defer cancel()
	if _, err := p.sender.SendSync(ctx, msg); err != nil {
		eventsTotal.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("event", e.Name).Msg("send event")
		return
	}
	eventsTotal.WithLabelValues("ok").Inc()
}

// Close flushes queued events and shuts the producer down. When ctx ends
// before the queue drains, the in-flight send is cancelled, the rest of the
// queue is discarded and the producer is shut down without waiting further.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()
	select {
	case <-p.done:
	case <-ctx.Done():
		p.cancelSend()
		log.Warn().Int("queued", len(p.ch)).Msg("close deadline reached; discarding queued events")
	}
	defer p.cancelSend()
	return p.sender.Shutdown()
}
