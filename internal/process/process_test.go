package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/polidog/kilar/pkg/errdefs"
)

func newTestKiller(grace time.Duration) *Killer {
	log := logrus.New()
	log.SetOutput(io.Discard)

	k := New(log)
	k.Grace = grace
	return k
}

// reapedPid returns the pid of a child that has already exited and been
// waited for, so signaling it fails with ESRCH.
func reapedPid(t *testing.T) uint32 {
	t.Helper()

	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())
	return uint32(pid)
}

func TestKillErrorMapping(t *testing.T) {
	assert.NoError(t, killError(1, nil))
	assert.True(t, errdefs.IsProcessNotFound(killError(42, unix.ESRCH)))
	assert.True(t, errdefs.IsPermissionDenied(killError(1, unix.EPERM)))
	assert.True(t, errdefs.IsCommandFailed(killError(42, unix.EINVAL)))
}

func TestTerminateGraceful(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())

	k := newTestKiller(50 * time.Millisecond)
	require.NoError(t, k.Terminate(context.Background(), uint32(cmd.Process.Pid)))

	err := cmd.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminated", "sleep should die from SIGTERM alone")
}

func TestTerminateEscalates(t *testing.T) {
	cmd := exec.Command("sh", "-c", `trap "" TERM; sleep 30`)
	require.NoError(t, cmd.Start())
	// Give the shell a moment to install the trap.
	time.Sleep(100 * time.Millisecond)

	k := newTestKiller(100 * time.Millisecond)
	require.NoError(t, k.Terminate(context.Background(), uint32(cmd.Process.Pid)))

	err := cmd.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "killed", "a TERM-ignoring process gets SIGKILL")
}

func TestTerminateMissingProcess(t *testing.T) {
	k := newTestKiller(time.Millisecond)

	err := k.Terminate(context.Background(), reapedPid(t))
	require.Error(t, err)
	assert.True(t, errdefs.IsProcessNotFound(err))
}

func TestTerminateHonorsContext(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	k := newTestKiller(10 * time.Second)
	start := time.Now()
	err := k.Terminate(ctx, uint32(cmd.Process.Pid))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must cut the grace wait short")
}

func TestAlive(t *testing.T) {
	assert.True(t, Alive(uint32(os.Getpid())))
	assert.False(t, Alive(reapedPid(t)))
}
