package sse

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSendFrame(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	require.NoError(t, Send(w, Event{Event: EventContent, Data: map[string]string{"content": "Hi "}}))
	assert.Equal(t, "event: content\ndata: {\"content\":\"Hi \"}\n\n", buf.String())
}

func TestSendStringData(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	require.NoError(t, Send(w, Event{Data: "raw"}))
	assert.Equal(t, "data: raw\n\n", buf.String())
}

func TestEmitterErrorFrame(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(bufio.NewWriter(&buf))

	assert.True(t, e.Emit(EventError, map[string]string{"error": "producer timed out"}))
	assert.Equal(t, "event: error\ndata: {\"error\":\"producer timed out\"}\n\n", buf.String())
	assert.False(t, e.Emit(EventDone, map[string]string{"final_response": "late"}))
}

func TestEmitterStopsAfterTerminal(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(bufio.NewWriter(&buf))

	assert.True(t, e.Emit(EventPing, map[string]string{"message": "connected"}))
	assert.True(t, e.Emit(EventDone, map[string]string{"final_response": "ok"}))
	assert.False(t, e.Emit(EventContent, map[string]string{"content": "late"}))
	assert.NotContains(t, buf.String(), "late")
	assert.False(t, e.Broken())
}

func TestEmitterReportsBrokenStream(t *testing.T) {
	e := NewEmitter(bufio.NewWriterSize(failingWriter{}, 16))

	assert.False(t, e.Emit(EventContent, map[string]string{"content": "hello"}))
	assert.True(t, e.Broken())
	assert.False(t, e.Emit(EventDone, map[string]string{"final_response": "hello"}))
}
