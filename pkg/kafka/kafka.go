// Package kafka wraps segmentio/kafka-go for the market event stream.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nazeru/market-ledger-go/pkg/contracts"
)

var ErrDisabled = errors.New("kafka disabled: no brokers configured")

type Client struct {
	Brokers []string
}

// NewClient parses a comma separated broker list. An empty list gives a
// disabled client.
func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

func (c *Client) Enabled() bool { return c != nil && len(c.Brokers) > 0 }

// NewWriter returns a writer keyed by message key. With an empty topic every
// message must carry its own, as outbox records do.
func (c *Client) NewWriter(topic string) (*kafka.Writer, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, nil
}

func (c *Client) NewReader(topic, groupID string) (*kafka.Reader, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	}), nil
}

// PublishEvent writes evt keyed by its order, or its account for events that
// are not about an order, so one order's events stay in one partition.
func PublishEvent(ctx context.Context, w *kafka.Writer, evt contracts.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(contracts.Key(evt)), Value: data, Time: evt.CreatedAt})
}

// DecodeEvent parses a message written by PublishEvent or the outbox relay.
func DecodeEvent(msg kafka.Message) (contracts.Event, error) {
	var evt contracts.Event
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return evt, fmt.Errorf("decode event at %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	if evt.EventID == "" || evt.Type == "" {
		return evt, fmt.Errorf("event at %s/%d@%d: missing id or type", msg.Topic, msg.Partition, msg.Offset)
	}
	return evt, nil
}
