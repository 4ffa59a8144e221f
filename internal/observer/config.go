// Package observer turns domain state transitions (order filled, position
// liquidated, balance updated — events produced elsewhere in the system)
// into step submissions, via a Kafka broker. Observers are pure producers
// of step rows; they never call back into the dispatcher or harness
// directly — they only ever append rows through stepstore.Store.
package observer

import "github.com/Shopify/sarama"

const (
	DefaultPartitions = 1
	DefaultReplicas    = 1
)

// Config bundles the sarama client configuration and topic layout.
type Config struct {
	SaramaConfig *sarama.Config
	Brokers      []string
	GroupID      string
	TopicPrefix  string
	Partitions   int32
	Replicas     int16
}

// DefaultConfig returns a sarama config with producer-ack confirmation
// on, and conservative topic defaults.
func DefaultConfig(brokers []string, groupID, topicPrefix string) *Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Version = sarama.MaxVersion
	return &Config{
		SaramaConfig: cfg,
		Brokers:      brokers,
		GroupID:      groupID,
		TopicPrefix:  topicPrefix,
		Partitions:   DefaultPartitions,
		Replicas:     DefaultReplicas,
	}
}
