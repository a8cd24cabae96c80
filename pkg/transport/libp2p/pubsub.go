package libp2p

import (
	"context"
	"encoding/json"
	"reflect"

	libp2p_pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/rs/zerolog/log"

	"github.com/coopmesh-project/coopmesh/pkg/logger"
	"github.com/coopmesh-project/coopmesh/pkg/transport"
)

type PubSubParams struct {
	Host        host.Host
	TopicName   string
	PubSub      *libp2p_pubsub.PubSub
	IgnoreLocal bool
}

// PubSub delivers marketplace messages over a libp2p gossipsub topic.
// Payloads are JSON; delivery is at-least-once and unordered, matching the
// dedup contract of the bid collector and lifecycle manager.
type PubSub[T any] struct {
	subscriber   transport.Subscriber[T]
	hostID       string
	topic        *libp2p_pubsub.Topic
	subscription *libp2p_pubsub.Subscription
	ignoreLocal  bool
}

func NewPubSub[T any](ctx context.Context, params PubSubParams) (*PubSub[T], error) {
	topic, err := params.PubSub.Join(params.TopicName)
	if err != nil {
		return nil, err
	}

	subscription, err := topic.Subscribe()
	if err != nil {
		return nil, err
	}

	newPubSub := &PubSub[T]{
		hostID:       params.Host.ID().String(),
		topic:        topic,
		subscription: subscription,
		ignoreLocal:  params.IgnoreLocal,
	}

	go newPubSub.listenForEvents(ctx)
	return newPubSub, nil
}

func (p *PubSub[T]) Publish(ctx context.Context, message T) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	log.Ctx(ctx).Trace().Msgf("Sending message %+v", message)
	return p.topic.Publish(ctx, payload)
}

func (p *PubSub[T]) Subscribe(ctx context.Context, subscriber transport.Subscriber[T]) error {
	p.subscriber = subscriber
	return nil
}

func (p *PubSub[T]) listenForEvents(ctx context.Context) {
	for {
		msg, err := p.subscription.Next(ctx)
		if err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				log.Ctx(ctx).Trace().Msgf("libp2p pubsub shutting down: %v", err)
			} else {
				log.Ctx(ctx).Error().Msgf(
					"libp2p encountered an unexpected error, shutting down: %v", err)
			}
			return
		}
		if p.ignoreLocal && msg.GetFrom().String() == p.hostID {
			continue
		}
		p.readMessage(ctx, msg)
	}
}

func (p *PubSub[T]) readMessage(ctx context.Context, msg *libp2p_pubsub.Message) {
	ctx = logger.ContextWithNodeIDLogger(ctx, p.hostID)
	var payload T
	err := json.Unmarshal(msg.Data, &payload)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("error unmarshalling libp2p payload: %v", err)
		return
	}

	if p.subscriber == nil {
		return
	}
	err = p.subscriber.Handle(ctx, payload)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msgf("error in handle message of type: %s", reflect.TypeOf(payload))
	}
}

func (p *PubSub[T]) Close(ctx context.Context) error {
	p.subscription.Cancel()
	return p.topic.Close()
}

// compile-time interface assertions
var _ transport.PubSub[string] = (*PubSub[string])(nil)
