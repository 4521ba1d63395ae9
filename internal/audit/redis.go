package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/raaihank/case-sentinel/internal/config"
	"github.com/raaihank/case-sentinel/internal/logger"
	"go.uber.org/zap"
)

const mirrorWriteTimeout = 5 * time.Second

// RedisMirror persists audit events to two capped Redis lists so the log
// survives restarts. A single goroutine drains a bounded queue, which keeps
// Redis writes in the same order as store appends.
type RedisMirror struct {
	client       *redis.Client
	keyPrefix    string
	redactionCap int
	rejectionCap int
	logger       *logger.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan Notification
	done    chan struct{}
	dropped atomic.Int64
}

// NewRedisMirror connects to Redis and starts the writer goroutine
func NewRedisMirror(cfg config.RedisConfig, redactionCap, rejectionCap int, log *logger.Logger) (*RedisMirror, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	m := newRedisMirror(client, cfg, redactionCap, rejectionCap, log)

	m.logger.Info("Audit mirror initialized",
		zap.String("redis_url", maskRedisURL(cfg.URL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.String("key_prefix", cfg.KeyPrefix),
	)

	return m, nil
}

func newRedisMirror(client *redis.Client, cfg config.RedisConfig, redactionCap, rejectionCap int, log *logger.Logger) *RedisMirror {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	m := &RedisMirror{
		client:       client,
		keyPrefix:    cfg.KeyPrefix,
		redactionCap: redactionCap,
		rejectionCap: rejectionCap,
		logger:       log.WithComponent("audit_mirror"),
		queue:        make(chan Notification, queueSize),
		done:         make(chan struct{}),
	}
	go m.run()
	return m
}

// Listen enqueues a store notification. Appends never block; when the queue
// is full they are dropped and counted. A clear always waits for room so
// cleared events cannot come back through Restore.
func (m *RedisMirror) Listen(n Notification) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	if n.Kind == KindCleared {
		m.queue <- n
		return
	}

	select {
	case m.queue <- n:
	default:
		total := m.dropped.Add(1)
		m.logger.Warn("Audit mirror queue full, dropping event",
			zap.String("kind", string(n.Kind)),
			zap.Int64("dropped_total", total),
		)
	}
}

// Dropped returns how many notifications were discarded because the queue
// was full
func (m *RedisMirror) Dropped() int64 {
	return m.dropped.Load()
}

func (m *RedisMirror) run() {
	defer close(m.done)
	for n := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
		if err := m.write(ctx, n); err != nil {
			m.logger.Error("Audit mirror write failed",
				zap.String("kind", string(n.Kind)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (m *RedisMirror) write(ctx context.Context, n Notification) error {
	switch n.Kind {
	case KindRedaction:
		if n.Redaction == nil {
			return nil
		}
		return m.push(ctx, m.redactionKey(), n.Redaction, m.redactionCap)
	case KindRejection:
		if n.Rejection == nil {
			return nil
		}
		return m.push(ctx, m.rejectionKey(), n.Rejection, m.rejectionCap)
	case KindCleared:
		return m.Clear(ctx)
	}
	return nil
}

// push prepends v and trims the list to limit entries in one round trip
func (m *RedisMirror) push(ctx context.Context, key string, v any, limit int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(limit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror audit event: %w", err)
	}
	return nil
}

// Load reads the persisted events, most recent first, for Store.Restore.
// Corrupt entries are skipped.
func (m *RedisMirror) Load(ctx context.Context) ([]RedactionEvent, []RejectionEvent, error) {
	rawRedactions, err := m.client.LRange(ctx, m.redactionKey(), 0, int64(m.redactionCap-1)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load redaction events: %w", err)
	}
	rawRejections, err := m.client.LRange(ctx, m.rejectionKey(), 0, int64(m.rejectionCap-1)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load rejection events: %w", err)
	}

	redactions := make([]RedactionEvent, 0, len(rawRedactions))
	for _, raw := range rawRedactions {
		var e RedactionEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			m.logger.Warn("Skipping corrupt redaction event", zap.Error(err))
			continue
		}
		redactions = append(redactions, e)
	}

	rejections := make([]RejectionEvent, 0, len(rawRejections))
	for _, raw := range rawRejections {
		var e RejectionEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			m.logger.Warn("Skipping corrupt rejection event", zap.Error(err))
			continue
		}
		rejections = append(rejections, e)
	}

	return redactions, rejections, nil
}

// Clear deletes both persisted lists
func (m *RedisMirror) Clear(ctx context.Context) error {
	if err := m.client.Del(ctx, m.redactionKey(), m.rejectionKey()).Err(); err != nil {
		return fmt.Errorf("failed to delete audit keys: %w", err)
	}
	m.logger.Info("Audit mirror cleared")
	return nil
}

// Close drains the queue and closes the Redis connection
func (m *RedisMirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	<-m.done
	return m.client.Close()
}

func (m *RedisMirror) redactionKey() string {
	return m.keyPrefix + ":audit:redactions"
}

func (m *RedisMirror) rejectionKey() string {
	return m.keyPrefix + ":audit:rejections"
}

// maskRedisURL masks the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
