package answer

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when no producer URL is set
	ErrNotConfigured = errors.New("answer producer is not configured")
	// ErrMalformedResponse is returned when a 2xx body cannot be used
	ErrMalformedResponse = errors.New("malformed response")
)

// Request is the payload sent to the answer producer
type Request struct {
	Query       string      `json:"query"`
	Context     interface{} `json:"context,omitempty"`
	RoutingMode string      `json:"routing_mode"`
	UserID      string      `json:"user_id"`
	SessionID   string      `json:"session_id"`
	TopicID     *uint       `json:"topic_id,omitempty"`
	TopicName   string      `json:"topic_name,omitempty"`
}

// Answer is the producer's reply
type Answer struct {
	Response string        `json:"response"`
	Sources  []interface{} `json:"sources,omitempty"`
	Intent   string        `json:"intent,omitempty"`
}

type answerPayload struct {
	Response *string       `json:"response"`
	Sources  []interface{} `json:"sources"`
	Intent   string        `json:"intent"`
}

// ProducerConfig holds the producer endpoints
type ProducerConfig struct {
	// URL receives direct-chat turns
	URL string
	// TopicURL receives topic-routed turns; URL is used when empty
	TopicURL string
}

// Producer calls the downstream answer service
type Producer struct {
	client   *Client
	url      string
	topicURL string
}

// NewProducer creates a producer client
func NewProducer(client *Client, config ProducerConfig) *Producer {
	return &Producer{
		client:   client,
		url:      config.URL,
		topicURL: config.TopicURL,
	}
}

// Produce sends one turn and returns the answer. The call is bounded by ctx.
func (p *Producer) Produce(ctx context.Context, req Request) (*Answer, error) {
	url := p.url
	if req.TopicID != nil && p.topicURL != "" {
		url = p.topicURL
	}
	if url == "" {
		return nil, ErrNotConfigured
	}

	var payload answerPayload
	if err := p.client.postJSON(ctx, url, req, &payload); err != nil {
		return nil, err
	}
	if payload.Response == nil {
		return nil, fmt.Errorf("%w: missing response field", ErrMalformedResponse)
	}

	return &Answer{
		Response: *payload.Response,
		Sources:  payload.Sources,
		Intent:   payload.Intent,
	}, nil
}
