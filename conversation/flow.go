// Package conversation implements the onboarding dialogue each
// subscriber walks through before receiving alerts, and the host that
// connects completed dialogues to the profile store.
package conversation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// State identifies where in the onboarding dialogue a subscriber is.
type State int

const (
	// StateStart is the entry point for subscribers without a profile.
	StateStart State = iota
	// StateAwaitingCoords waits for a "lat,lon" pair.
	StateAwaitingCoords
	// StateAwaitingRange waits for an alert radius in kilometers.
	StateAwaitingRange
	// StateAwaitingCallsign waits for an APRS callsign or "no".
	StateAwaitingCallsign
	// StateActive means onboarding is complete and alerts are flowing.
	StateActive
	// StateDeactivated signals the host to delete the profile and drop
	// this flow. Respond never runs in this state.
	StateDeactivated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAwaitingCoords:
		return "awaiting_coords"
	case StateAwaitingRange:
		return "awaiting_range"
	case StateAwaitingCallsign:
		return "awaiting_callsign"
	case StateActive:
		return "active"
	case StateDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// Reply texts. Activation and deactivation wording matches the bot's
// established voice; changing them breaks nobody but confuses everyone.
const (
	msgWelcome = "Welcome to SondeAlert!\n\nTo get started, please enter your home GPS " +
		"coordinates as a comma separated pair of decimals, e.g. \n\n51.5056, -0.0754"
	msgBadCoordFormat = "Invalid input! Please try again."
	msgBadCoordRange  = "Invalid GPS Coordinates."
	msgRangePrompt    = "Thanks! Now please enter the radius from your home coordinates " +
		"in which you'd like to be notified of landings, in Km."
	msgBadRangeFormat = "Invalid input. Please try again."
	msgBadRangeBounds = "Range must be between 0 and 300km."
	msgCallsignPrompt = "Thanks. If you would like to also be alerted of APRS messages " +
		"sent to you, please enter your callsign. If you do not require this service, please type 'no'."
	msgDeactivated    = "Thanks. Your subscription has been deactivated."
	msgUnknownCommand = "Unknown command."
)

// MaxRangeKm is the largest accepted alert radius.
const MaxRangeKm = 300

// StopCommand deactivates a subscription from the Active state.
const StopCommand = "/stop"

// Flow is one subscriber's dialogue state plus the values gathered so
// far. It lives in memory only for the duration of onboarding and is
// never persisted.
type Flow struct {
	State    State
	Lat      float64
	Lon      float64
	RangeKm  float64
	Callsign string
}

// NewFlow creates a flow at the given starting state. Subscribers with
// an existing profile start at StateActive, everyone else at StateStart.
func NewFlow(start State) *Flow {
	return &Flow{State: start}
}

// Respond processes one inbound message, advances the state machine and
// returns the reply text. Invalid input never fails: the flow stays in
// its current state and the reply explains what to fix.
func (f *Flow) Respond(input string) string {
	switch f.State {
	case StateStart:
		f.State = StateAwaitingCoords
		return msgWelcome

	case StateAwaitingCoords:
		return f.respondCoords(input)

	case StateAwaitingRange:
		return f.respondRange(input)

	case StateAwaitingCallsign:
		return f.respondCallsign(input)

	case StateActive:
		return f.respondActive(input)
	}

	// StateDeactivated is consumed by the host before the next message
	// arrives, so this is unreachable in practice.
	return msgUnknownCommand
}

func (f *Flow) respondCoords(input string) string {
	parts := strings.Split(input, ",")
	if len(parts) != 2 {
		return msgBadCoordFormat
	}

	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLat != nil || errLon != nil {
		return msgBadCoordFormat
	}

	// ParseFloat accepts "nan" and "inf", and NaN slides past every
	// bounds comparison. Only finite in-range values are coordinates.
	if !isFinite(lat) || !isFinite(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return msgBadCoordRange
	}

	f.Lat = lat
	f.Lon = lon
	f.State = StateAwaitingRange
	return msgRangePrompt
}

func (f *Flow) respondRange(input string) string {
	rangeKm, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil {
		return msgBadRangeFormat
	}
	if !isFinite(rangeKm) || rangeKm < 0 || rangeKm > MaxRangeKm {
		return msgBadRangeBounds
	}

	f.RangeKm = rangeKm
	f.State = StateAwaitingCallsign
	return msgCallsignPrompt
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (f *Flow) respondCallsign(input string) string {
	if !strings.EqualFold(input, "no") {
		f.Callsign = input
	}
	f.State = StateActive

	return fmt.Sprintf(
		"Thanks! You will now be alerted to sondes landing within %gkm of %.4f, %.4f."+
			"\n\nTo stop receiving alerts, type <pre>%s</pre> at any time. Your data will be removed.",
		f.RangeKm, f.Lat, f.Lon, StopCommand)
}

func (f *Flow) respondActive(input string) string {
	if !strings.EqualFold(input, StopCommand) {
		return msgUnknownCommand
	}

	f.Lat = 0
	f.Lon = 0
	f.RangeKm = 0
	f.State = StateDeactivated
	return msgDeactivated
}
