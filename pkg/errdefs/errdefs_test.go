package errdefs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindsSurviveWrapping(t *testing.T) {
	err := errors.Wrap(PortNotFound(8080), "check")
	assert.True(t, IsPortNotFound(err))
	assert.False(t, IsCommandFailed(err))
	assert.False(t, IsUncategorized(err))
	assert.Contains(t, err.Error(), "port 8080")
}

func TestCommandFailedMessage(t *testing.T) {
	err := CommandFailedf("all resolution tools failed (last tried netstat)")
	assert.True(t, IsCommandFailed(err))
	assert.Contains(t, err.Error(), "netstat")
}

func TestUncategorized(t *testing.T) {
	assert.True(t, IsUncategorized(errors.New("boom")))
	assert.False(t, IsUncategorized(nil))
	assert.False(t, IsUncategorized(WrapIO(errors.New("read failed"), "net table")))
}

func TestWrapIONil(t *testing.T) {
	assert.NoError(t, WrapIO(nil, "whatever"))
}

func TestProcessAndPermission(t *testing.T) {
	assert.True(t, IsProcessNotFound(ProcessNotFound(4242)))
	assert.True(t, IsPermissionDenied(PermissionDeniedf("kill pid %d", 1)))
	assert.True(t, IsInvalidPort(InvalidPortf("port number must be greater than 0")))
	assert.True(t, IsParseFailure(ParseFailuref("unexpected %s output", "lsof")))
}
