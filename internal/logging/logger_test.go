package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "orchestrator")

	log.Info("stage complete", "stage", "classifying", "confidence", 0.62, "err", fmt.Errorf("nope"), "dangling")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "orchestrator", entry["component"])
	assert.Equal(t, "stage complete", entry["message"])
	assert.Equal(t, "classifying", entry["stage"])
	assert.Equal(t, 0.62, entry["confidence"])
	assert.Equal(t, "nope", entry["err"])
	assert.NotContains(t, entry, "dangling")
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "queue").With("job_id", "job-7")

	log.Warn("retrying")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "job-7", entry["job_id"])
	assert.Equal(t, "warn", entry["level"])
}

func TestSetLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	SetLevel("WARN")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	SetLevel("bogus")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
