// Package prediction models SondeHub landing prediction events and
// decodes them from the wire.
package prediction

import (
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/ashleyhuxley/sonde-alert/errors"
)

// ErrEmptyTrack is returned when a prediction carries no track points.
var ErrEmptyTrack = errors.New("prediction has no track data")

// TrackPoint is one point on the forecast trajectory.
type TrackPoint struct {
	Time int64   `json:"time"` // unix seconds
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Alt  float64 `json:"alt"`
}

// Timestamp returns the track point time as UTC.
func (tp TrackPoint) Timestamp() time.Time {
	return time.Unix(tp.Time, 0).UTC()
}

// Prediction is one landing prediction event for a tracked radiosonde.
// It is ephemeral: it exists only for the duration of one matching pass.
type Prediction struct {
	Serial string       `json:"serial"`
	Type   string       `json:"type"`
	Data   []TrackPoint `json:"data"`
}

// LandingPoint returns the track point with the latest timestamp, which
// is the predicted landing position.
func (p Prediction) LandingPoint() TrackPoint {
	landing := p.Data[0]
	for _, tp := range p.Data[1:] {
		if tp.Time > landing.Time {
			landing = tp
		}
	}
	return landing
}

// Decode parses a prediction payload. Malformed JSON and empty tracks
// are invalid errors: the event is dropped, the stream carries on.
func Decode(payload []byte) (Prediction, error) {
	var p Prediction
	if err := json.Unmarshal(payload, &p); err != nil {
		return Prediction{}, apperrors.WrapInvalid(err, "prediction", "Decode", "payload parse")
	}
	if len(p.Data) == 0 {
		return Prediction{}, apperrors.WrapInvalid(ErrEmptyTrack, "prediction", "Decode", "track validation")
	}
	return p, nil
}
