package outbox

import (
	"context"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nazeru/market-ledger-go/pkg/logging"
)

// Publisher is the part of *kafka.Writer the relay needs.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// Relay polls the outbox and publishes pending records until ctx is done.
// A record is marked sent only after the broker acknowledged it, so delivery
// is at least once.
type Relay struct {
	DB        DB
	Publisher Publisher
	Service   string
	Batch     int
	Interval  time.Duration
}

func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			logging.Log(logging.Fields{Service: r.Service, Step: "outbox_relay", Status: "error", Message: err.Error()})
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Flush publishes one batch and returns how many records were sent.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	limit := r.Batch
	if limit <= 0 {
		limit = 100
	}
	recs, err := FetchPending(ctx, r.DB, limit)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rec := range recs {
		msg := kafkago.Message{Topic: rec.Topic, Key: []byte(rec.Key), Value: rec.Payload, Time: time.Now().UTC()}
		if err := r.Publisher.WriteMessages(ctx, msg); err != nil {
			return sent, err
		}
		if err := MarkSent(ctx, r.DB, rec.ID); err != nil {
			return sent, err
		}
		logging.Log(logging.Fields{Service: r.Service, EventID: rec.EventID, Step: "outbox_relay", Status: "sent"})
		sent++
	}
	return sent, nil
}
