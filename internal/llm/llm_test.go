package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportErrorMessage(t *testing.T) {
	inner := errors.New("connection reset")
	err := &TransportError{Provider: "anthropic", Err: inner}
	assert.Equal(t, "llm provider anthropic: connection reset", err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestTransportErrorMatchesAs(t *testing.T) {
	var wrapped error = &TransportError{Provider: "anthropic", Err: errors.New("overloaded")}
	var te *TransportError
	assert.True(t, errors.As(wrapped, &te))
	assert.Equal(t, "anthropic", te.Provider)
}
