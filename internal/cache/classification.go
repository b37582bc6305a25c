/**
 * Classification Cache
 *
 * Decorates a Classifier with a Redis-backed cache keyed by the SHA-256 of
 * the document bytes, so re-submitted files skip the classification call.
 * Cache failures are logged and never fail the classification itself.
 */

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/docanalysis-worker/internal/logging"
	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

const (
	DefaultKeyPrefix = "docanalysis:classification:"
	DefaultTTL       = 24 * time.Hour
)

// Classifier is the decorated collaborator
type Classifier interface {
	Classify(ctx context.Context, path string) (*models.Classification, error)
}

// Store is the key/value backend of the cache
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisStore implements Store on a go-redis client
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the value and whether the key existed
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set stores value with a TTL
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// ClassificationCache implements the pipeline's Classifier
type ClassificationCache struct {
	next   Classifier
	store  Store
	ttl    time.Duration
	prefix string
	logger *logging.Logger
}

// NewClassificationCache wraps next. A non-positive ttl uses DefaultTTL.
func NewClassificationCache(next Classifier, store Store, ttl time.Duration) *ClassificationCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ClassificationCache{
		next:   next,
		store:  store,
		ttl:    ttl,
		prefix: DefaultKeyPrefix,
		logger: logging.NewLogger("ClassificationCache"),
	}
}

// Classify returns the cached classification for the file contents, or
// classifies and caches it
func (c *ClassificationCache) Classify(ctx context.Context, path string) (*models.Classification, error) {
	digest, err := FileDigest(path)
	if err != nil {
		c.logger.Warn("Cannot hash document, bypassing cache", "path", path, "error", err)
		return c.next.Classify(ctx, path)
	}
	key := c.prefix + digest

	if cached, ok := c.lookup(ctx, key); ok {
		c.logger.Debug("Classification cache hit", "key", key, "category", cached.Category)
		return cached, nil
	}

	classification, err := c.next.Classify(ctx, path)
	if err != nil {
		return nil, err
	}

	if classification != nil {
		c.save(ctx, key, classification)
	}

	return classification, nil
}

func (c *ClassificationCache) lookup(ctx context.Context, key string) (*models.Classification, bool) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("Classification cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var classification models.Classification
	if err := json.Unmarshal(data, &classification); err != nil || classification.Category == "" {
		c.logger.Warn("Discarding malformed cache entry", "key", key)
		return nil, false
	}
	return &classification, true
}

func (c *ClassificationCache) save(ctx context.Context, key string, classification *models.Classification) {
	data, err := json.Marshal(classification)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Classification cache write failed", "key", key, "error", err)
	}
}

// FileDigest returns the hex SHA-256 of the file at path
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
