package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/adminsuite/governance-backend/internal/infrastructure/config"
)

func TestNoopPublisher(t *testing.T) {
	ctx := context.Background()
	var pub NoopPublisher

	assert.NoError(t, pub.StreamEntry(ctx, nil))
	assert.NoError(t, pub.NotifyErasure(ctx, ErasureNotice{}))
	pub.Close()
}

func TestErasureNoticeWireShape(t *testing.T) {
	notice := ErasureNotice{
		RequestID:   uuid.New(),
		SubjectID:   "subj-1",
		CompletedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Targets:     []string{"backups", "processor"},
	}

	data, err := json.Marshal(notice)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, notice.RequestID.String(), decoded["request_id"])
	assert.Equal(t, "subj-1", decoded["subject_id"])
	assert.Contains(t, decoded, "completed_at")

	// The notice names the subject, never field contents.
	assert.NotContains(t, decoded, "fields")
	assert.NotContains(t, decoded, "values")
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewKafkaPublisher(ctx, config.KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	require.Error(t, err)

	logger := zaptest.NewLogger(t)

	_, err = NewKafkaPublisher(ctx, config.KafkaConfig{}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING_BROKERS")

	_, err = NewKafkaPublisher(ctx, config.KafkaConfig{Brokers: []string{"localhost:9092"}}, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING_TOPICS")
}
