package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ns-3e/OpenMatch/pkg/models"
)

func TestNoopSink_Publish(t *testing.T) {
	var s Sink = NoopSink{}
	err := s.Publish(context.Background(), models.MergeEvent{EventType: models.EventMerge})
	assert.NoError(t, err)
}

func TestNewKafkaSink_BuildsWriterWithoutConnecting(t *testing.T) {
	sink := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "merge-events"}, nil)
	assert.NotNil(t, sink)
	assert.NoError(t, sink.Close())
}
