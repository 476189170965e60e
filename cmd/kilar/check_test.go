package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polidog/kilar/pkg/errdefs"
	"github.com/polidog/kilar/pkg/model"
)

func TestValidatePort(t *testing.T) {
	assert.NoError(t, validatePort(1))
	assert.NoError(t, validatePort(65535))

	err := validatePort(0)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidPort(err))
	assert.Contains(t, err.Error(), "Port number must be greater than 0")
}

func TestValidateProtocol(t *testing.T) {
	for in, want := range map[string]model.Protocol{
		"tcp": model.TCP,
		"udp": model.UDP,
		"all": model.All,
		"TCP": model.TCP,
	} {
		proto, err := validateProtocol(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, proto)
	}

	_, err := validateProtocol("http")
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidPort(err))
	assert.Contains(t, err.Error(), "Invalid protocol 'http'. Must be tcp, udp, or all")
}
