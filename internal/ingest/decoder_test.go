package ingest_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/WillB97/kit-web-ui/internal/ingest"
)

var arrival = time.Date(2026, 4, 12, 10, 30, 0, 0, time.UTC)

func TestDecode_LogMessage(t *testing.T) {
	payload := []byte(`{"timestamp": 1765000000, "message": "hello", "run_uuid": "abc"}`)

	msg, err := ingest.Decode(ingest.SubtopicLogs, payload, arrival)
	require.NoError(t, err)

	assert.Equal(t, ingest.KindLog, msg.Kind)
	assert.Equal(t, "hello", msg.LogLine)
	assert.Equal(t, "abc", msg.RunUUID)
	// Payload timestamp wins over arrival time, converted as UTC epoch seconds.
	assert.Equal(t, time.Unix(1765000000, 0).UTC(), msg.Timestamp)
}

func TestDecode_FractionalTimestamp(t *testing.T) {
	payload := []byte(`{"timestamp": 1765000000.5, "message": "x"}`)

	msg, err := ingest.Decode(ingest.SubtopicLogs, payload, arrival)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1765000000, 500000000).UTC(), msg.Timestamp)
}

func TestDecode_MissingTimestampUsesArrival(t *testing.T) {
	msg, err := ingest.Decode(ingest.SubtopicState, []byte(`{"state": "Running"}`), arrival)
	require.NoError(t, err)
	assert.Equal(t, arrival, msg.Timestamp)
	assert.Equal(t, "Running", msg.State)
	assert.Equal(t, "", msg.RunUUID)
}

func TestDecode_NonNumericTimestampUsesArrival(t *testing.T) {
	msg, err := ingest.Decode(ingest.SubtopicState, []byte(`{"state": "Idle", "timestamp": "noon"}`), arrival)
	require.NoError(t, err)
	assert.Equal(t, arrival, msg.Timestamp)
}

func TestDecode_ConnectedFieldFallback(t *testing.T) {
	msg, err := ingest.Decode(ingest.SubtopicConnected, []byte(`{"connected": "connected"}`), arrival)
	require.NoError(t, err)
	assert.Equal(t, ingest.KindConnected, msg.Kind)
	assert.Equal(t, "connected", msg.Connected)

	msg, err = ingest.Decode(ingest.SubtopicConnected, []byte(`{"state": "disconnected"}`), arrival)
	require.NoError(t, err)
	assert.Equal(t, "disconnected", msg.Connected)
}

func TestDecode_Image(t *testing.T) {
	msg, err := ingest.Decode(ingest.SubtopicImage, []byte(`{"data": "data:image/jpeg;base64,aGk=", "run_uuid": "r1"}`), arrival)
	require.NoError(t, err)
	assert.Equal(t, ingest.KindImage, msg.Kind)
	assert.Equal(t, "data:image/jpeg;base64,aGk=", msg.ImageData)
}

func TestDecode_UnknownSubtopicIsRaw(t *testing.T) {
	msg, err := ingest.Decode("battery", []byte(`{"voltage": 11.7}`), arrival)
	require.NoError(t, err)
	assert.Equal(t, ingest.KindRaw, msg.Kind)
	assert.Equal(t, 11.7, msg.Fields["voltage"])
}

func TestDecode_MalformedJSON(t *testing.T) {
	_, err := ingest.Decode(ingest.SubtopicLogs, []byte(`not json`), arrival)
	assert.Error(t, err)

	// A bare JSON array is not a document either.
	_, err = ingest.Decode(ingest.SubtopicLogs, []byte(`[1,2,3]`), arrival)
	assert.Error(t, err)
}
