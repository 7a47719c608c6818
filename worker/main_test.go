package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/models"
	"github.com/SongHyeonJin/gift-recommendation-service-sub000/internal/vectorsync"
)

type stubSyncer struct {
	events []vectorsync.Event
	err    error
}

func (s *stubSyncer) Sync(_ context.Context, e vectorsync.Event) error {
	s.events = append(s.events, e)
	return s.err
}

type captureWriter struct {
	msgs []kafka.Message
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProcessMessageSyncsEvent(t *testing.T) {
	w := &captureWriter{}
	pub := vectorsync.NewPublisher(w)
	require.NoError(t, pub.PublishSaved(context.Background(), models.Product{ID: 11, Title: "원목 무드등"}))

	syncer := &stubSyncer{}
	require.NoError(t, processMessage(context.Background(), discard(), syncer, w.msgs[0]))
	require.Len(t, syncer.events, 1)
	require.EqualValues(t, 11, syncer.events[0].ProductID)
	require.Equal(t, vectorsync.OpSaved, syncer.events[0].Op)
}

func TestProcessMessageRejectsGarbage(t *testing.T) {
	syncer := &stubSyncer{}
	err := processMessage(context.Background(), discard(), syncer, kafka.Message{Value: []byte("not json")})
	require.Error(t, err)
	require.Empty(t, syncer.events)
}

func TestProcessMessagePropagatesSyncError(t *testing.T) {
	syncer := &stubSyncer{err: errors.New("index down")}
	msg := kafka.Message{Value: []byte(`{"id":"e1","op":"deleted","product_id":3}`)}
	require.ErrorContains(t, processMessage(context.Background(), discard(), syncer, msg), "index down")
}

func TestDLQMessageCarriesContext(t *testing.T) {
	orig := kafka.Message{
		Key:       []byte("3"),
		Value:     []byte(`{}`),
		Partition: 2,
		Offset:    41,
		Headers:   []kafka.Header{{Key: "event_id", Value: []byte("e1")}},
	}
	at := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	out := dlqMessage(orig, errors.New("boom"), at)
	require.Equal(t, orig.Key, out.Key)
	require.Len(t, orig.Headers, 1)

	headers := map[string]string{}
	for _, h := range out.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, "e1", headers["event_id"])
	require.Equal(t, "2", headers["original_partition"])
	require.Equal(t, "41", headers["original_offset"])
	require.Equal(t, "boom", headers["error"])
	require.Equal(t, "2025-05-01T09:00:00Z", headers["timestamp"])
}

func TestSendToDLQ(t *testing.T) {
	w := &captureWriter{}
	require.True(t, sendToDLQ(context.Background(), discard(), w, kafka.Message{Value: []byte("x")}))
	require.Len(t, w.msgs, 1)
}
