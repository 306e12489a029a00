package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermes-engine/hermes/internal/event"
)

func TestEncodePayloadAcceptsBytesAndStrings(t *testing.T) {
	out, err := encodePayload(&event.Event{Payload: []byte("raw")})
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), out)

	out, err = encodePayload(&event.Event{Payload: "text"})
	require.NoError(t, err)
	assert.Equal(t, []byte("text"), out)

	out, err = encodePayload(&event.Event{Payload: nil})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestEncodePayloadRejectsUnsupportedType(t *testing.T) {
	_, err := encodePayload(&event.Event{SourceTag: event.SourceKV, Payload: 42})
	assert.Error(t, err)
}

func TestDecodeReplyForCorrelatedEventReturnsBody(t *testing.T) {
	evt := &event.Event{SourceTag: event.SourceHTTP, CorrelationID: "abc"}
	reply := decodeReply(evt, []byte("hello"))
	assert.Equal(t, []byte("hello"), reply.Body)
	assert.False(t, reply.Retrigger)
}

func TestDecodeReplyForCronEventReturnsRetriggerHint(t *testing.T) {
	evt := &event.Event{SourceTag: event.SourceCron}

	assert.True(t, decodeReply(evt, []byte{1}).Retrigger)
	assert.False(t, decodeReply(evt, []byte{0}).Retrigger)
	assert.False(t, decodeReply(evt, nil).Retrigger)
}

func TestPrelinkedImageHandlesChecksExportedEvents(t *testing.T) {
	img := &PrelinkedImage{ExportedEvents: map[string]bool{"http": true, "cron": true}}
	assert.True(t, img.Handles("http"))
	assert.False(t, img.Handles("kv"))
}
