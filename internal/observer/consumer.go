package observer

import (
	"context"
	"encoding/json"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"github.com/cryptoladder/engine/internal/stepstore"
)

// Consumer implements sarama.ConsumerGroupHandler: a ConsumerGroup
// wrapped behind a per-topic handler map. Each handled message is decoded
// into an Event and dispatched through the registered Reaction for its
// kind; whatever step rows the reaction returns are appended through
// store — the consumer itself never runs job logic.
type Consumer struct {
	group     sarama.ConsumerGroup
	store     stepstore.Store
	reactions map[TransitionKind]Reaction
}

func NewConsumer(cfg *Config, store stepstore.Store) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, cfg.SaramaConfig)
	if err != nil {
		return nil, err
	}
	return &Consumer{
		group:     group,
		store:     store,
		reactions: make(map[TransitionKind]Reaction),
	}, nil
}

// OnTransition registers the Reaction invoked for events of the given
// kind. Re-registering the same kind overwrites the prior reaction.
func (c *Consumer) OnTransition(kind TransitionKind, r Reaction) {
	c.reactions[kind] = r
}

// Run consumes from topics (one per registered kind, by convention
// "<prefix>-<kind>") until ctx is cancelled, rejoining the consumer group
// after every Consume call returns.
func (c *Consumer) Run(ctx context.Context, topicPrefix string) error {
	var topics []string
	for kind := range c.reactions {
		topics = append(topics, topicPrefix+"-"+string(kind))
	}
	for {
		if err := c.group.Consume(ctx, topics, c); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("failed to decode event", zap.String("topic", msg.Topic), zap.Error(err))
			sess.MarkMessage(msg, "")
			continue
		}
		reaction, ok := c.reactions[event.Kind]
		if !ok {
			sess.MarkMessage(msg, "")
			continue
		}
		submissions, err := reaction(event)
		if err != nil {
			logger.Error("reaction failed", zap.String("kind", string(event.Kind)), zap.Error(err))
			sess.MarkMessage(msg, "")
			continue
		}
		for _, s := range submissions {
			if _, err := c.store.Create(sess.Context(), s); err != nil {
				logger.Error("failed to submit step from event", zap.String("kind", string(event.Kind)), zap.Error(err))
			}
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

func (c *Consumer) Close() error {
	return c.group.Close()
}
