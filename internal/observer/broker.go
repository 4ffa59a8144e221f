package observer

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"github.com/cryptoladder/engine/internal/log"
)

var logger = log.New(log.ModuleObserver)

// Broker wraps a sarama async producer + cluster admin: a singleton
// producer, lazily-created topics, async publish of domain transition
// events.
type Broker struct {
	cfg      *Config
	producer sarama.AsyncProducer
	admin    sarama.ClusterAdmin

	mu            sync.Mutex
	createdTopics map[string]struct{}
}

func NewBroker(cfg *Config) (*Broker, error) {
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, cfg.SaramaConfig)
	if err != nil {
		return nil, fmt.Errorf("observer: new producer: %w", err)
	}
	admin, err := sarama.NewClusterAdmin(cfg.Brokers, cfg.SaramaConfig)
	if err != nil {
		return nil, fmt.Errorf("observer: new cluster admin: %w", err)
	}

	b := &Broker{cfg: cfg, producer: producer, admin: admin, createdTopics: make(map[string]struct{})}

	go func() {
		for err := range producer.Errors() {
			logger.Error("publish failed", zap.Error(err))
		}
	}()

	return b, nil
}

func (b *Broker) topic(kind TransitionKind) string {
	return fmt.Sprintf("%s-%s", b.cfg.TopicPrefix, kind)
}

// ensureTopic lazily creates the topic the first time this process
// publishes to it, rather than a separate provisioning step.
func (b *Broker) ensureTopic(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.createdTopics[topic]; ok {
		return
	}
	err := b.admin.CreateTopic(topic, &sarama.TopicDetail{
		NumPartitions:     b.cfg.Partitions,
		ReplicationFactor: b.cfg.Replicas,
	}, false)
	if err != nil && err != sarama.ErrTopicAlreadyExists {
		logger.Warn("create topic failed", zap.String("topic", topic), zap.Error(err))
	}
	b.createdTopics[topic] = struct{}{}
}

// Publish emits event on its kind's topic.
func (b *Broker) Publish(event Event) error {
	topic := b.topic(event.Kind)
	b.ensureTopic(topic)

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	b.producer.Input() <- &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(fmt.Sprintf("%d", event.AccountID)),
		Value: sarama.ByteEncoder(data),
	}
	return nil
}

func (b *Broker) Close() error {
	return b.producer.Close()
}
