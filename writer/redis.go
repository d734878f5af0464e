package writer

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	appconfig "exchangecatalog/config"
	"exchangecatalog/internal/metrics"
	"exchangecatalog/logger"
	"exchangecatalog/models"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisPublisher keeps the latest normalized record per vendor, data type
// and symbol under a key and announces each one on a channel.
type RedisPublisher struct {
	client *redis.Client
	config appconfig.RedisConfig
	log    *logger.Log

	batches     atomic.Int64
	published   atomic.Int64
	bytes       atomic.Int64
	errorsCount atomic.Int64
}

func NewRedisPublisher(cfg appconfig.RedisConfig) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisPublisher{client: client, config: cfg, log: logger.GetLogger()}
}

// Ping checks the connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Key returns the key holding the latest record for rec.
func (p *RedisPublisher) Key(rec *models.NormalizedRecord) string {
	symbol := rec.Text(models.FieldSymbol)
	if symbol == "" {
		symbol = "_"
	}
	prefix := strings.TrimSuffix(p.config.KeyPrefix, ":")
	return fmt.Sprintf("%s:%s:%s:%s", prefix, rec.Vendor, rec.DataType, symbol)
}

// Publish stores and announces every record in one pipeline.
func (p *RedisPublisher) Publish(ctx context.Context, records ...*models.NormalizedRecord) error {
	if len(records) == 0 {
		return nil
	}
	log := p.log.WithComponent("redis_publisher").WithFields(logger.Fields{"records": len(records)})

	var size int64
	_, err := p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rec := range records {
			data, err := jsonAPI.Marshal(rec.Map())
			if err != nil {
				return fmt.Errorf("encode %s record: %w", rec.Vendor, err)
			}
			size += int64(len(data))
			pipe.Set(ctx, p.Key(rec), data, p.config.TTL)
			if p.config.Channel != "" {
				pipe.Publish(ctx, p.config.Channel, data)
			}
		}
		return nil
	})
	if err != nil {
		p.errorsCount.Add(1)
		log.WithError(err).Warn("failed to publish records")
		return fmt.Errorf("redis publish: %w", err)
	}
	p.batches.Add(1)
	p.published.Add(int64(len(records)))
	p.bytes.Add(size)
	logger.LogDataFlowEntry(log, "engine", "redis", len(records), "normalized_records")
	return nil
}

func (p *RedisPublisher) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		BatchesWritten: p.batches.Load(),
		RecordsWritten: p.published.Load(),
		BytesWritten:   p.bytes.Load(),
		ErrorsCount:    p.errorsCount.Load(),
	}
}

func (p *RedisPublisher) Close() error {
	metrics.ReportWriter(p.log, "redis_publisher", p.Stats())
	return p.client.Close()
}
