package gwerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportUnwrapsAndMatchesErrorsIs(t *testing.T) {
	sentinel := errors.New("connection refused")
	err := &Transport{Backend: "stream", Err: sentinel}

	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "stream")
}

func TestProtocolUnwraps(t *testing.T) {
	sentinel := errors.New("bad json")
	err := &Protocol{Backend: "pipe-primary", Err: sentinel}

	assert.ErrorIs(t, err, sentinel)
}

func TestErrorsAsDispatchesByConcreteType(t *testing.T) {
	var err error = &Capability{Backend: "pipe-primary", Op: "thinking level"}

	var cap *Capability
	require := assert.New(t)
	require.True(errors.As(err, &cap))
	require.Equal("thinking level", cap.Op)

	var timeout *Timeout
	require.False(errors.As(err, &timeout))
}

func TestBackendSemanticMessage(t *testing.T) {
	err := &BackendSemantic{Backend: "stream", Message: "unknown model"}
	assert.Contains(t, err.Error(), "unknown model")
}

func TestSuppressedCosmeticIsDistinguishable(t *testing.T) {
	var err error = &SuppressedCosmetic{Backend: "stream", Reason: "noisy background error"}

	var sc *SuppressedCosmetic
	assert.True(t, errors.As(err, &sc))
}
