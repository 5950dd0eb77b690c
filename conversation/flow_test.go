package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartIgnoresInput(t *testing.T) {
	for _, input := range []string{"", "hello", "51.5,-0.1"} {
		f := NewFlow(StateStart)
		reply := f.Respond(input)
		assert.Equal(t, StateAwaitingCoords, f.State)
		assert.Contains(t, reply, "Welcome to SondeAlert!")
	}
}

func TestCoordsValid(t *testing.T) {
	tests := []struct {
		input    string
		lat, lon float64
	}{
		{"51.5056,-0.0754", 51.5056, -0.0754},
		{"51.5056, -0.0754", 51.5056, -0.0754},
		{" -90 , 180 ", -90, 180},
		{"90,-180", 90, -180},
		{"0,0", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			f := NewFlow(StateAwaitingCoords)
			reply := f.Respond(tt.input)

			assert.Equal(t, StateAwaitingRange, f.State)
			assert.Equal(t, tt.lat, f.Lat)
			assert.Equal(t, tt.lon, f.Lon)
			assert.Contains(t, reply, "radius")
		})
	}
}

func TestCoordsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		reply string
	}{
		{"one token", "51.5", msgBadCoordFormat},
		{"three tokens", "51.5,0.1,7", msgBadCoordFormat},
		{"not a number", "fifty one,-0.1", msgBadCoordFormat},
		{"empty", "", msgBadCoordFormat},
		{"lat too big", "90.1,0", msgBadCoordRange},
		{"lat too small", "-90.5,0", msgBadCoordRange},
		{"lon too big", "0,180.2", msgBadCoordRange},
		{"lon too small", "0,-181", msgBadCoordRange},
		{"nan pair", "nan,nan", msgBadCoordRange},
		{"nan lat", "NaN,0", msgBadCoordRange},
		{"positive infinity", "+Inf,0", msgBadCoordRange},
		{"negative infinity", "0,-inf", msgBadCoordRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFlow(StateAwaitingCoords)
			reply := f.Respond(tt.input)

			assert.Equal(t, StateAwaitingCoords, f.State, "state must not advance")
			assert.Equal(t, tt.reply, reply)
			assert.Zero(t, f.Lat)
			assert.Zero(t, f.Lon)
		})
	}
}

func TestRangeValid(t *testing.T) {
	for _, input := range []string{"0", "50", "299.9", "300"} {
		f := NewFlow(StateAwaitingRange)
		reply := f.Respond(input)

		assert.Equal(t, StateAwaitingCallsign, f.State)
		assert.Contains(t, reply, "callsign")
	}
}

func TestRangeInvalid(t *testing.T) {
	tests := []struct {
		input string
		reply string
	}{
		{"abc", msgBadRangeFormat},
		{"", msgBadRangeFormat},
		{"-1", msgBadRangeBounds},
		{"300.1", msgBadRangeBounds},
		{"1000", msgBadRangeBounds},
		{"nan", msgBadRangeBounds},
		{"inf", msgBadRangeBounds},
		{"-Inf", msgBadRangeBounds},
	}

	for _, tt := range tests {
		f := NewFlow(StateAwaitingRange)
		reply := f.Respond(tt.input)

		assert.Equal(t, StateAwaitingRange, f.State)
		assert.Equal(t, tt.reply, reply)
		assert.Zero(t, f.RangeKm)
	}
}

func TestCallsignDeclined(t *testing.T) {
	for _, input := range []string{"no", "No", "NO", "nO"} {
		f := NewFlow(StateAwaitingCallsign)
		f.Lat, f.Lon, f.RangeKm = 51.5, -0.1, 50

		reply := f.Respond(input)

		assert.Equal(t, StateActive, f.State)
		assert.Empty(t, f.Callsign)
		assert.Contains(t, reply, "/stop")
	}
}

func TestCallsignStoredVerbatim(t *testing.T) {
	f := NewFlow(StateAwaitingCallsign)
	f.Lat, f.Lon, f.RangeKm = 51.5, -0.1, 50

	reply := f.Respond("m0AbC")

	assert.Equal(t, StateActive, f.State)
	assert.Equal(t, "m0AbC", f.Callsign, "callsign is case-sensitive as entered")
	assert.Contains(t, reply, "50km")
	assert.Contains(t, reply, "51.5000, -0.1000")
}

func TestActiveStopCommand(t *testing.T) {
	for _, input := range []string{"/stop", "/STOP", "/Stop"} {
		f := NewFlow(StateActive)
		f.Lat, f.Lon, f.RangeKm = 51.5, -0.1, 50

		reply := f.Respond(input)

		assert.Equal(t, StateDeactivated, f.State)
		assert.Equal(t, msgDeactivated, reply)
		assert.Zero(t, f.Lat)
		assert.Zero(t, f.Lon)
		assert.Zero(t, f.RangeKm)
	}
}

func TestActiveUnknownCommand(t *testing.T) {
	for _, input := range []string{"hello", "stop", "/stopp", ""} {
		f := NewFlow(StateActive)
		f.Lat, f.Lon, f.RangeKm = 51.5, -0.1, 50

		reply := f.Respond(input)

		assert.Equal(t, StateActive, f.State)
		assert.Equal(t, msgUnknownCommand, reply)
		assert.Equal(t, 51.5, f.Lat, "flow data unchanged")
		assert.Equal(t, 50.0, f.RangeKm)
	}
}

func TestFullOnboardingSequence(t *testing.T) {
	f := NewFlow(StateStart)

	f.Respond("/start")
	require.Equal(t, StateAwaitingCoords, f.State)

	f.Respond("51.5,-0.1")
	require.Equal(t, StateAwaitingRange, f.State)

	f.Respond("50")
	require.Equal(t, StateAwaitingCallsign, f.State)

	reply := f.Respond("M0ABC")
	require.Equal(t, StateActive, f.State)

	assert.Equal(t, 51.5, f.Lat)
	assert.Equal(t, -0.1, f.Lon)
	assert.Equal(t, 50.0, f.RangeKm)
	assert.Equal(t, "M0ABC", f.Callsign)
	assert.True(t, strings.Contains(reply, "alerted"))
}
