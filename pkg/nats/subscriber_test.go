package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "events.SUPERVISOR_ALERT", Subject("SUPERVISOR_ALERT"))
	assert.Equal(t, "events.*", Subject("*"))
}

func TestDecodeRestoresTypeAndTimestamp(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	msg := nats.NewMsg("events.SUPERVISOR_ALERT")
	msg.Data = []byte(`{"type":"SEVERE_ALERT","groupId":"g1","message":"Group g1 has gone silent"}`)
	msg.Header.Set("Occurred-At", at.Format(time.RFC3339Nano))

	ev, err := decode(msg)

	require.NoError(t, err)
	assert.Equal(t, "SUPERVISOR_ALERT", ev.EventType())
	assert.Equal(t, "g1", ev.Payload()["groupId"])
	assert.True(t, at.Equal(ev.Timestamp()))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	msg := nats.NewMsg("events.SUPERVISOR_ALERT")
	msg.Data = []byte("not json")

	_, err := decode(msg)

	assert.Error(t, err)
}
