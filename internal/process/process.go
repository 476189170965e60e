// Package process terminates processes by pid, escalating from SIGTERM
// to SIGKILL when the polite request is ignored.
package process

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/polidog/kilar/pkg/errdefs"
)

// DefaultGrace is how long a process gets to exit after SIGTERM before
// SIGKILL is sent.
const DefaultGrace = 500 * time.Millisecond

// Killer sends termination signals directly, no shelling out to kill.
type Killer struct {
	// Grace is the wait between SIGTERM and the liveness probe.
	Grace time.Duration

	log logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Killer {
	return &Killer{Grace: DefaultGrace, log: log}
}

// Terminate asks pid to exit with SIGTERM, waits out the grace period,
// and force-kills it if it is still running.
func (k *Killer) Terminate(ctx context.Context, pid uint32) error {
	if err := k.signal(pid, unix.SIGTERM); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(k.Grace):
	}

	if !Alive(pid) {
		return nil
	}

	k.log.WithField("pid", pid).Debug("process survived SIGTERM, escalating to SIGKILL")
	if err := k.signal(pid, unix.SIGKILL); err != nil {
		// The process exited between the probe and the kill.
		if errdefs.IsProcessNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

// Alive probes pid with the null signal. EPERM means the process exists
// but belongs to another user, which still counts as alive.
func Alive(pid uint32) bool {
	err := unix.Kill(int(pid), 0)
	return err == nil || err == unix.EPERM
}

func (k *Killer) signal(pid uint32, sig unix.Signal) error {
	return killError(pid, unix.Kill(int(pid), sig))
}

func killError(pid uint32, err error) error {
	switch err {
	case nil:
		return nil
	case unix.ESRCH:
		return errdefs.ProcessNotFound(pid)
	case unix.EPERM:
		return errdefs.PermissionDeniedf("cannot signal pid %d, try again with sudo", pid)
	default:
		return errdefs.CommandFailedf("kill pid %d: %v", pid, err)
	}
}
