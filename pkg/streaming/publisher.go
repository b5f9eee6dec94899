// Package streaming mirrors extracted bars onto a Redis stream or a Kafka topic.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"barextractor.magictradebot.com/config"
	"barextractor.magictradebot.com/models"
	"barextractor.magictradebot.com/pkg/failure"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends every bar of a run to the configured stream. All messages of one
// run carry the same run id.
type Publisher struct {
	cfg   config.StreamingConfig
	runID string
	log   logrus.FieldLogger
	now   func() time.Time

	redis *redis.Client
	kafka messageWriter
}

// ValidateStreamingConfig reports an incomplete provider section. Disabled streaming is valid.
func ValidateStreamingConfig(cfg config.StreamingConfig, log logrus.FieldLogger) error {
	const op = "streaming.validate"

	if !cfg.Enabled {
		log.Info("🔇 Streaming is disabled.")
		return nil
	}

	switch cfg.Provider {
	case "redis":
		if cfg.Redis.Address == "" || cfg.Redis.Stream == "" {
			return failure.New(failure.ConfigurationInvalid, op, "redis configuration is incomplete")
		}
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return failure.New(failure.ConfigurationInvalid, op, "kafka configuration is incomplete")
		}
	default:
		return failure.New(failure.ConfigurationInvalid, op, fmt.Sprintf("unknown streaming provider: %s", cfg.Provider))
	}
	return nil
}

// NewPublisher connects to the configured provider. Redis is pinged up front; the
// Kafka writer connects lazily on first publish.
func NewPublisher(ctx context.Context, cfg config.StreamingConfig, runID string, log logrus.FieldLogger) (*Publisher, error) {
	if err := ValidateStreamingConfig(cfg, log); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, failure.New(failure.ConfigurationInvalid, "streaming.new_publisher", "streaming is disabled")
	}

	p := &Publisher{
		cfg:   cfg,
		runID: runID,
		log:   log.WithField("provider", cfg.Provider),
		now:   time.Now,
	}

	switch cfg.Provider {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			p.log.WithError(err).Error("❌ Failed to connect to Redis")
			return nil, failure.Wrap(failure.PersistenceFailed, "streaming.redis_ping", err)
		}
		p.redis = client

	case "kafka":
		p.kafka = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Kafka.Brokers...),
			Topic:        cfg.Kafka.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		}
	}

	p.log.Info("📡 Streaming publisher ready")
	return p, nil
}

func (p *Publisher) Name() string {
	return "stream:" + p.cfg.Provider
}

// Save publishes rows in order.
func (p *Publisher) Save(ctx context.Context, rows []models.SymbolKlineBar) error {
	if len(rows) == 0 {
		p.log.Debug("⏩ Nothing to stream")
		return nil
	}

	var err error
	switch {
	case p.redis != nil:
		err = p.publishRedis(ctx, rows)
	case p.kafka != nil:
		err = p.publishKafka(ctx, rows)
	default:
		err = fmt.Errorf("no client for provider %q", p.cfg.Provider)
	}
	if err != nil {
		p.log.WithError(err).WithField("rows", len(rows)).Error("❌ Stream publish error")
		return failure.Wrap(failure.PersistenceFailed, "streaming.publish", err)
	}

	p.log.WithFields(logrus.Fields{"rows": len(rows), "symbol": rows[0].Symbol}).Info("📤 Bars sent to stream")
	return nil
}

func (p *Publisher) publishRedis(ctx context.Context, rows []models.SymbolKlineBar) error {
	pipe := p.redis.Pipeline()
	for _, r := range rows {
		entry, err := p.redisEntry(r)
		if err != nil {
			return err
		}
		args := &redis.XAddArgs{
			Stream: p.cfg.Redis.Stream,
			Values: entry,
		}
		if p.cfg.Redis.MaxLen > 0 {
			args.MaxLen = p.cfg.Redis.MaxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Publisher) publishKafka(ctx context.Context, rows []models.SymbolKlineBar) error {
	msgs := make([]kafka.Message, 0, len(rows))
	for _, r := range rows {
		msg, err := p.kafkaMessage(r)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return p.kafka.WriteMessages(ctx, msgs...)
}

// redisEntry builds the stream entry fields for one bar.
func (p *Publisher) redisEntry(r models.SymbolKlineBar) (map[string]interface{}, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"symbol":  r.Symbol,
		"payload": payload,
		"ts":      p.now().UnixMilli(),
		"run_id":  p.runID,
	}, nil
}

// kafkaMessage keys by symbol so one symbol's bars stay ordered on a single partition.
func (p *Publisher) kafkaMessage(r models.SymbolKlineBar) (kafka.Message, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(r.Symbol),
		Value: payload,
		Time:  r.Timestamp,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(p.runID)},
			{Key: "open_time", Value: []byte(strconv.FormatInt(r.OpenTime, 10))},
		},
	}, nil
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	if p.redis != nil {
		return p.redis.Close()
	}
	if p.kafka != nil {
		return p.kafka.Close()
	}
	return nil
}
