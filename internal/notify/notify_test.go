package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	subject string
	payload []byte
}

type memPublisher struct {
	sent   []message
	err    error
	closed bool
}

func (p *memPublisher) Publish(_ context.Context, subject string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, message{subject, payload})
	return nil
}

func (p *memPublisher) Close() { p.closed = true }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_Upload(t *testing.T) {
	pub := &memPublisher{}
	n := New(pub, quietLogger())
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, n.Upload(context.Background(), UploadEvent{
		MachineID: "m1", Filename: "m1_1740830400000_x.jpg", Bytes: 2048, At: at,
	}))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "particle.uploads.m1", pub.sent[0].subject)

	var got UploadEvent
	require.NoError(t, json.Unmarshal(pub.sent[0].payload, &got))
	assert.Equal(t, 2048, got.Bytes)
	assert.Empty(t, got.Error)
	assert.True(t, at.Equal(got.At))

	n.Close()
	assert.True(t, pub.closed)
}

func TestNotifier_SessionStampsTime(t *testing.T) {
	pub := &memPublisher{}
	n := New(pub, quietLogger())

	require.NoError(t, n.Session(context.Background(), SessionEvent{Type: "signed_in", UserID: "u1"}))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "particle.sessions.signed_in", pub.sent[0].subject)

	var got SessionEvent
	require.NoError(t, json.Unmarshal(pub.sent[0].payload, &got))
	assert.False(t, got.At.IsZero())
}

func TestNotifier_PublishError(t *testing.T) {
	n := New(&memPublisher{err: errors.New("nats not connected")}, quietLogger())
	err := n.Upload(context.Background(), UploadEvent{MachineID: "m1"})
	assert.ErrorContains(t, err, "nats not connected")
}

func TestNotifier_DefaultsToNop(t *testing.T) {
	n := New(nil, nil)
	assert.NoError(t, n.Upload(context.Background(), UploadEvent{MachineID: "m1"}))
	n.Close()
}
