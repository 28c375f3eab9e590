package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventOtpIssued is the event type carried by KafkaSender messages.
const EventOtpIssued = "otp.issued"

// OtpIssuedEvent is the JSON value of a KafkaSender message. The topic
// carries live codes and must be restricted to the notification service.
type OtpIssuedEvent struct {
	Event    string    `json:"event"`
	Identity string    `json:"identity"`
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issuedAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes issued codes keyed by identity, so all codes for one
// identity land on the same partition in order.
type KafkaSender struct {
	writer messageWriter
	topic  string
}

// NewKafkaSender returns a sender writing to topic on brokers.
func NewKafkaSender(brokers []string, topic string) (*KafkaSender, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka sender requires at least one broker")
	}
	if topic == "" {
		return nil, errors.New("kafka sender requires a topic")
	}
	return &KafkaSender{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

func (s *KafkaSender) SendCode(ctx context.Context, code, identity string) error {
	payload, err := json.Marshal(OtpIssuedEvent{
		Event:    EventOtpIssued,
		Identity: identity,
		Code:     code,
		IssuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(identity),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventOtpIssued)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s: %w", EventOtpIssued, s.topic, err)
	}
	return nil
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
