package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapFormat(t *testing.T) {
	base := stderrors.New("connection refused")
	err := Wrap(base, "mqttstream", "Start", "broker connect")
	require.Error(t, err)
	assert.Equal(t, "mqttstream.Start: broker connect failed: connection refused", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "o", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "o", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "o", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "o", "a"))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class Class
	}{
		{"transient wrap", WrapTransient(stderrors.New("send timeout"), "telegram", "Send", "message send"), ClassTransient},
		{"invalid wrap", WrapInvalid(stderrors.New("bad json"), "prediction", "Decode", "payload decode"), ClassInvalid},
		{"fatal wrap", WrapFatal(stderrors.New("no token"), "config", "Validate", "validation"), ClassFatal},
		{"decode sentinel", ErrDecodeFailed, ClassInvalid},
		{"missing config sentinel", ErrMissingConfig, ClassFatal},
		{"unknown defaults transient", stderrors.New("something odd"), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.class, Classify(tt.err))
		})
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	inner := WrapInvalid(stderrors.New("truncated track"), "prediction", "Decode", "payload decode")
	outer := Wrap(inner, "service", "onPrediction", "event handling")

	assert.True(t, IsInvalid(outer))
	assert.False(t, IsTransient(outer))
	assert.False(t, IsFatal(outer))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "invalid", ClassInvalid.String())
	assert.Equal(t, "fatal", ClassFatal.String())
	assert.Equal(t, "unknown", Class(42).String())
}
