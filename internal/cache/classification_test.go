package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/docanalysis-worker/internal/models"
)

type memoryStore struct {
	data   map[string][]byte
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

type countingClassifier struct {
	calls  int
	result *models.Classification
	err    error
}

func (c *countingClassifier) Classify(context.Context, string) (*models.Classification, error) {
	c.calls++
	return c.result, c.err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestClassificationCacheHitSkipsClassifier(t *testing.T) {
	next := &countingClassifier{result: &models.Classification{Category: "scientific_publication", Confidence: 0.9}}
	store := newMemoryStore()
	c := NewClassificationCache(next, store, time.Hour)

	first, err := c.Classify(context.Background(), writeFile(t, "a.png", "same bytes"))
	require.NoError(t, err)

	// different path, same contents
	second, err := c.Classify(context.Background(), writeFile(t, "b.png", "same bytes"))
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first, second)
	for _, ttl := range store.ttls {
		assert.Equal(t, time.Hour, ttl)
	}
}

func TestClassificationCacheKeyIsContentDigest(t *testing.T) {
	next := &countingClassifier{result: &models.Classification{Category: "email", Confidence: 0.8}}
	store := newMemoryStore()
	c := NewClassificationCache(next, store, 0)

	_, err := c.Classify(context.Background(), writeFile(t, "a.png", "hello"))
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("hello"))
	key := DefaultKeyPrefix + hex.EncodeToString(sum[:])
	assert.JSONEq(t, `{"category":"email","confidence":0.8}`, string(store.data[key]))
	assert.Equal(t, DefaultTTL, store.ttls[key])
}

func TestClassificationCacheDoesNotCacheErrors(t *testing.T) {
	next := &countingClassifier{err: fmt.Errorf("api down")}
	store := newMemoryStore()
	c := NewClassificationCache(next, store, time.Minute)
	path := writeFile(t, "a.png", "x")

	_, err := c.Classify(context.Background(), path)
	assert.Error(t, err)
	_, err = c.Classify(context.Background(), path)
	assert.Error(t, err)

	assert.Equal(t, 2, next.calls)
	assert.Empty(t, store.data)
}

func TestClassificationCacheToleratesStoreFailures(t *testing.T) {
	next := &countingClassifier{result: &models.Classification{Category: "other", Confidence: 0.5}}
	store := newMemoryStore()
	store.getErr = fmt.Errorf("connection refused")
	store.setErr = fmt.Errorf("connection refused")
	c := NewClassificationCache(next, store, time.Minute)

	got, err := c.Classify(context.Background(), writeFile(t, "a.png", "x"))

	require.NoError(t, err)
	assert.Equal(t, "other", got.Category)
	assert.Equal(t, 1, next.calls)
}

func TestClassificationCacheDiscardsMalformedEntry(t *testing.T) {
	next := &countingClassifier{result: &models.Classification{Category: "email", Confidence: 0.6}}
	store := newMemoryStore()
	path := writeFile(t, "a.png", "x")
	digest, err := FileDigest(path)
	require.NoError(t, err)
	store.data[DefaultKeyPrefix+digest] = []byte("not json")

	got, err := NewClassificationCache(next, store, time.Minute).Classify(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, "email", got.Category)
	assert.Equal(t, 1, next.calls)
}

func TestClassificationCacheBypassesUnreadableFile(t *testing.T) {
	next := &countingClassifier{err: fmt.Errorf("no such file")}
	c := NewClassificationCache(next, newMemoryStore(), time.Minute)

	_, err := c.Classify(context.Background(), filepath.Join(t.TempDir(), "missing.png"))

	assert.Error(t, err)
	assert.Equal(t, 1, next.calls)
}
