// Package ipfspubsub implements the ipfs HRE (spec §6): a libp2p pub-sub
// host joining application-declared topics, turning inbound messages into
// ipfs:<topic> events, and backing the VFS's content-addressed ipfs/
// overlay. Grounded on the DeBrosOfficial network node's libp2p host/pubsub
// wiring (other_examples/manifests/DeBrosOfficial-network), the closest
// pack reference for this stack; the engine carries the same
// go-libp2p/go-libp2p-pubsub dependency pair.
package ipfspubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"

	"github.com/hermes-engine/hermes/internal/event"
	"github.com/hermes-engine/hermes/internal/hre"
	"github.com/hermes-engine/hermes/internal/queue"
	"github.com/hermes-engine/hermes/pkg/logger"
)

// Provider is the process-wide pub-sub singleton: one libp2p host shared by
// every application, one *pubsub.Topic per distinct topic name regardless
// of how many applications subscribe to it.
type Provider struct {
	q   *queue.Queue
	log *logger.Logger

	host host.Host
	ps   *pubsub.PubSub

	mu     sync.Mutex
	topics map[string]*joinedTopic
}

type joinedTopic struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	stop  context.CancelFunc
}

var _ hre.IPFSProvider = (*Provider)(nil)

// New constructs a libp2p host and gossipsub router and returns a Provider
// ready to join topics. The host listens on no fixed address; it dials out
// as a pure pub-sub client.
func New(ctx context.Context, q *queue.Queue, log *logger.Logger) (*Provider, error) {
	if log == nil {
		log = logger.NewDefault("ipfspubsub")
	}

	h, err := libp2p.New()
	if err != nil {
		return nil, fmt.Errorf("creating libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("creating gossipsub router: %w", err)
	}

	return &Provider{
		q:      q,
		log:    log,
		host:   h,
		ps:     ps,
		topics: make(map[string]*joinedTopic),
	}, nil
}

// Join subscribes the engine to topic, starting a goroutine that turns
// every inbound message into an ipfs:<topic> event targeted at every
// subscribing application. Idempotent: joining an already-joined topic is
// a no-op.
func (p *Provider) Join(ctx context.Context, topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.topics[topic]; ok {
		return nil
	}

	t, err := p.ps.Join(topic)
	if err != nil {
		return fmt.Errorf("joining topic %q: %w", topic, err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribing to topic %q: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	jt := &joinedTopic{topic: t, sub: sub, stop: cancel}
	p.topics[topic] = jt

	go p.readLoop(subCtx, topic, sub)
	return nil
}

func (p *Provider) readLoop(ctx context.Context, topic string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.With(nil).WithField("topic", topic).WithField("error", err).Warn("ipfs pubsub read failed")
			continue
		}
		if msg.ReceivedFrom == p.host.ID() {
			continue // ignore our own publishes looping back
		}

		if err := p.q.Enqueue(&event.Event{
			SourceTag: event.IPFSSource(topic),
			StreamKey: topic,
			Payload:   msg.Data,
		}); err != nil {
			p.log.With(nil).WithField("topic", topic).WithField("error", err).Warn("dropping ipfs message, queue full")
		}
	}
}

// Publish sends data on topic, joining it first if the engine has not yet
// subscribed. This is also the implementation backing the ipfs_publish
// host call.
func (p *Provider) Publish(ctx context.Context, topic string, data []byte) error {
	if err := p.Join(ctx, topic); err != nil {
		return err
	}
	p.mu.Lock()
	jt := p.topics[topic]
	p.mu.Unlock()

	return jt.topic.Publish(ctx, data)
}

// Fetch validates the CID shape and then always returns a "not available"
// error: the core engine does not bundle a full IPFS node (spec §1
// non-goal), so no content is ever fetched. An invalid CID yields an
// "invalid ipfs cid" error instead.
func (p *Provider) Fetch(ctx context.Context, cidStr string) ([]byte, error) {
	if _, err := cid.Decode(cidStr); err != nil {
		return nil, fmt.Errorf("invalid ipfs cid %q: %w", cidStr, err)
	}
	return nil, fmt.Errorf("ipfs content %q not available: no content-fetching backend configured", cidStr)
}

// Close tears down every joined topic subscription and the libp2p host.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, jt := range p.topics {
		jt.stop()
		jt.sub.Cancel()
	}
	return p.host.Close()
}
