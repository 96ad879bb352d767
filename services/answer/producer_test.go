package answer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastClient() *Client {
	return NewClient(Config{
		APIKey:      "k",
		RetryConfig: &RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	})
}

func TestProduceDirect(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"response":"Hi there","sources":[{"title":"doc"}],"intent":"greeting"}`))
	}))
	defer srv.Close()

	p := NewProducer(fastClient(), ProducerConfig{URL: srv.URL})
	ans, err := p.Produce(context.Background(), Request{Query: "Hello", RoutingMode: "direct_chat", UserID: "u", SessionID: "s"})
	require.NoError(t, err)

	assert.Equal(t, "Hi there", ans.Response)
	assert.Equal(t, "greeting", ans.Intent)
	assert.Len(t, ans.Sources, 1)
	assert.Equal(t, "Hello", got.Query)
	assert.Nil(t, got.TopicID)
}

func TestProduceTopicRoutedUsesTopicURL(t *testing.T) {
	var hits int32
	topicSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"response":"scoped"}`))
	}))
	defer topicSrv.Close()

	p := NewProducer(fastClient(), ProducerConfig{URL: "http://127.0.0.1:1", TopicURL: topicSrv.URL})
	topicID := uint(3)
	ans, err := p.Produce(context.Background(), Request{Query: "q", TopicID: &topicID})
	require.NoError(t, err)
	assert.Equal(t, "scoped", ans.Response)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestProduceMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"wrong field"}`))
	}))
	defer srv.Close()

	p := NewProducer(fastClient(), ProducerConfig{URL: srv.URL})
	_, err := p.Produce(context.Background(), Request{Query: "q"})
	assert.ErrorIs(t, err, ErrMalformedResponse)

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv2.Close()

	p = NewProducer(fastClient(), ProducerConfig{URL: srv2.URL})
	_, err = p.Produce(context.Background(), Request{Query: "q"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestProduceRetriesGatewayErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	p := NewProducer(fastClient(), ProducerConfig{URL: srv.URL})
	ans, err := p.Produce(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, "ok", ans.Response)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestProduceDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"query too long"}`))
	}))
	defer srv.Close()

	p := NewProducer(fastClient(), ProducerConfig{URL: srv.URL})
	_, err := p.Produce(context.Background(), Request{Query: "q"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "query too long", apiErr.Message)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestProduceTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p := NewProducer(fastClient(), ProducerConfig{URL: srv.URL})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Produce(ctx, Request{Query: "q"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProduceNotConfigured(t *testing.T) {
	p := NewProducer(fastClient(), ProducerConfig{})
	_, err := p.Produce(context.Background(), Request{Query: "q"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestBackoff(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, CalculateBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, CalculateBackoff(1, cfg))
	assert.Equal(t, 300*time.Millisecond, CalculateBackoff(2, cfg))
}

func TestParseRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	assert.Equal(t, time.Duration(0), ParseRetryAfter(resp))

	resp.Header.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, ParseRetryAfter(resp))

	assert.Equal(t, time.Duration(0), ParseRetryAfter(nil))
}
