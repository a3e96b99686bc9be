package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/assistant-relay/internal/model"
)

const (
	// StreamName is the name of the exchange transcript stream.
	StreamName = "RELAY_EXCHANGES"

	// SubjectPrefix is the prefix for all exchange subjects.
	SubjectPrefix = "relay.exchange"
)

// ExchangeStream records relayed exchanges on a JetStream stream.
type ExchangeStream struct {
	client *Client
	maxAge time.Duration
}

// NewExchangeStream creates a new exchange stream.
func NewExchangeStream(client *Client, maxAge time.Duration) *ExchangeStream {
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	return &ExchangeStream{client: client, maxAge: maxAge}
}

// EnsureStream ensures the exchange stream exists with proper configuration.
func (m *ExchangeStream) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      m.maxAge,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Relayed assistant exchanges",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// ExchangeSubject returns the subject for an exchange.
func ExchangeSubject(kind model.ExchangeKind, outcome string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, kind, outcome)
}

// Record publishes ex and stores the assigned stream sequence on it.
func (m *ExchangeStream) Record(ctx context.Context, ex *model.Exchange) error {
	data, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("failed to marshal exchange: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, ExchangeSubject(ex.Kind, ex.Outcome), data, jetstream.WithMsgID(ex.ID))
	if err != nil {
		return fmt.Errorf("failed to publish exchange: %w", err)
	}
	ex.Sequence = ack.Sequence

	return nil
}

// Recent returns up to limit exchanges recorded after afterSequence, oldest
// first. With afterSequence zero it returns the newest limit exchanges. The
// returned sequence is the last one read, and hasMore reports whether the
// stream holds exchanges past it.
func (m *ExchangeStream) Recent(ctx context.Context, afterSequence uint64, limit int) ([]model.Exchange, uint64, bool, error) {
	js := m.client.JetStream()

	stream, err := js.Stream(ctx, StreamName)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to look up stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read stream info: %w", err)
	}

	state := info.State
	if state.Msgs == 0 || afterSequence >= state.LastSeq || limit <= 0 {
		return nil, afterSequence, false, nil
	}

	startSeq := afterSequence + 1
	if afterSequence == 0 && state.LastSeq >= uint64(limit) {
		startSeq = state.LastSeq - uint64(limit) + 1
	}
	if startSeq < state.FirstSeq {
		startSeq = state.FirstSeq
	}
	if pending := state.LastSeq - startSeq + 1; pending < uint64(limit) {
		limit = int(pending)
	}

	consumer, err := js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:    startSeq,
	})
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch exchanges: %w", err)
	}

	var (
		exchanges    []model.Exchange
		lastSequence = afterSequence
	)
	for msg := range batch.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			continue
		}
		lastSequence = meta.Sequence.Stream

		var ex model.Exchange
		if err := json.Unmarshal(msg.Data(), &ex); err != nil {
			continue
		}
		ex.Sequence = meta.Sequence.Stream
		exchanges = append(exchanges, ex)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, nats.ErrTimeout) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	return exchanges, lastSequence, lastSequence < state.LastSeq, nil
}
