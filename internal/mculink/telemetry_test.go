package mculink_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbagent/core/internal/mculink"
)

func TestDecodeTelemetryTemperature(t *testing.T) {
	payload := []byte{byte(mculink.TelemetryTemperature), 0x07, 0xE8, 0x03} // source 7, 0x03E8 = 1000
	out, err := mculink.DecodeTelemetry(mculink.Frame{Type: mculink.MessageTypeBroadcast, Payload: payload})
	require.NoError(t, err)
	temp, ok := out.(mculink.Temperature)
	require.True(t, ok)
	assert.Equal(t, uint8(7), temp.Source)
	assert.Equal(t, int16(1000), temp.Centidegree)
}

func TestDecodeTelemetryButton(t *testing.T) {
	out, err := mculink.DecodeTelemetry(mculink.Frame{Payload: []byte{byte(mculink.TelemetryButton), 1}})
	require.NoError(t, err)
	assert.Equal(t, mculink.Button{Pressed: true}, out)
}

func TestDecodeTelemetryUnknownKind(t *testing.T) {
	_, err := mculink.DecodeTelemetry(mculink.Frame{Payload: []byte{0xEE, 0x00}})
	var unknown mculink.ErrUnknownTelemetry
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, mculink.TelemetryKind(0xEE), unknown.Kind)
}

func TestDecodeTelemetryEmptyPayload(t *testing.T) {
	_, err := mculink.DecodeTelemetry(mculink.Frame{})
	require.Error(t, err)
}

const testGGASentence = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"

func TestDecodeTelemetryGPSYieldsFragment(t *testing.T) {
	payload := append([]byte{byte(mculink.TelemetryGPS), 4}, []byte(testGGASentence)...)
	out, err := mculink.DecodeTelemetry(mculink.Frame{Payload: payload})
	require.NoError(t, err)
	frag, ok := out.(mculink.GPSFragment)
	require.True(t, ok)
	assert.Equal(t, uint8(4), frag.Counter)
	assert.Equal(t, testGGASentence, frag.Part)
}

func TestGPSReassemblerJoinsConsecutiveFragments(t *testing.T) {
	var r mculink.GPSReassembler
	half := len(testGGASentence) / 2

	sentence, complete := r.Feed(mculink.GPSFragment{Counter: 10, Part: testGGASentence[:half]})
	assert.False(t, complete)
	assert.Empty(t, sentence)

	sentence, complete = r.Feed(mculink.GPSFragment{Counter: 11, Part: testGGASentence[half:]})
	require.True(t, complete)
	assert.Equal(t, testGGASentence, sentence)
}

func TestGPSReassemblerDropsOutOfSequenceFragment(t *testing.T) {
	var r mculink.GPSReassembler
	half := len(testGGASentence) / 2

	_, complete := r.Feed(mculink.GPSFragment{Counter: 10, Part: testGGASentence[:half]})
	require.False(t, complete)

	// Counter jumps to 13 instead of the expected 11: the pending first half
	// must be discarded, not concatenated with this unrelated fragment.
	sentence, complete := r.Feed(mculink.GPSFragment{Counter: 13, Part: testGGASentence[half:]})
	assert.False(t, complete)
	assert.Empty(t, sentence)

	// And the reassembler must not be left thinking it still has a pending
	// half from counter 10.
	sentence, complete = r.Feed(mculink.GPSFragment{Counter: 15, Part: "garbage"})
	assert.False(t, complete)
	assert.Empty(t, sentence)
}

func TestParseGPSFixFromReassembledSentence(t *testing.T) {
	fix, err := mculink.ParseGPSFix(testGGASentence)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), fix.SatelliteCount)
	assert.Positive(t, fix.LatitudeE7)
	assert.Positive(t, fix.LongitudeE7)
}

func TestParseGPSFixRejectsMalformedSentence(t *testing.T) {
	_, err := mculink.ParseGPSFix("not,a,valid,sentence")
	require.Error(t, err)
}

func TestParseGPSFixRejectsNonGGASentence(t *testing.T) {
	_, err := mculink.ParseGPSFix("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")
	require.Error(t, err)
}
