package channels

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/murphys7017/mk2/internal/bus"
	"github.com/murphys7017/mk2/internal/observation"
)

// KafkaConfig configures the Kafka ingress channel.
type KafkaConfig struct {
	Enabled       bool     `json:"enabled" envconfig:"KAFKA_ENABLED"`
	Brokers       string   `json:"brokers" envconfig:"KAFKA_BROKERS"`
	ConsumerGroup string   `json:"consumerGroup" envconfig:"KAFKA_CONSUMER_GROUP"`
	Topics        []string `json:"topics"`
}

// kafkaRecord is the wire shape expected on ingress topics.
type kafkaRecord struct {
	SessionKey string `json:"session_key"`
	ActorID    string `json:"actor_id"`
	Text       string `json:"text"`
	EventID    string `json:"event_id"`
}

// KafkaIngress bridges topic records onto the input bus as MESSAGE
// observations. One reader goroutine per topic.
type KafkaIngress struct {
	BaseChannel
	cfg KafkaConfig

	mu      sync.Mutex
	readers []*kafka.Reader
}

// NewKafkaIngress creates the Kafka ingress channel.
func NewKafkaIngress(cfg KafkaConfig, b *bus.InputBus, cooldown CooldownFunc) *KafkaIngress {
	return &KafkaIngress{
		BaseChannel: NewBaseChannel("kafka_ingress", b, cooldown),
		cfg:         cfg,
	}
}

// Name returns the channel name.
func (k *KafkaIngress) Name() string { return "kafka_ingress" }

// Start launches one reader per configured topic.
func (k *KafkaIngress) Start(ctx context.Context) error {
	if !k.cfg.Enabled {
		return nil
	}
	brokerList := strings.Split(k.cfg.Brokers, ",")
	for _, topic := range k.cfg.Topics {
		k.startReader(ctx, brokerList, topic)
	}
	slog.Info("Kafka ingress started", "topics", k.cfg.Topics)
	return nil
}

func (k *KafkaIngress) startReader(ctx context.Context, brokerList []string, topic string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList,
		Topic:    topic,
		GroupID:  k.cfg.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	k.mu.Lock()
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	go func() {
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("Kafka ingress read error", "topic", topic, "error", err)
				k.ReportError("kafka_read_error", err.Error(), observation.SeverityMedium)
				continue
			}
			k.handleRecord(topic, msg)
		}
	}()
}

func (k *KafkaIngress) handleRecord(topic string, msg kafka.Message) {
	var rec kafkaRecord
	if err := json.Unmarshal(msg.Value, &rec); err != nil {
		k.ReportError("kafka_decode_error", err.Error(), observation.SeverityLow)
		return
	}
	obs := observation.NewMessage(k.Name(), rec.SessionKey, rec.ActorID, rec.Text)
	obs.Evidence = observation.EvidenceRef{
		RawEventID:  rec.EventID,
		RawEventURI: "kafka://" + topic,
	}
	k.Emit(obs)
}

// Stop closes every reader.
func (k *KafkaIngress) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, r := range k.readers {
		r.Close()
	}
	k.readers = nil
	return nil
}
