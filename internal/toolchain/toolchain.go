// Package toolchain resolves listening ports to processes by invoking
// the system diagnostic tools, trying lsof, then ss, then netstat.
// Every invocation carries the same timeout; intermediate failures are
// swallowed and only the last tool's failure reaches the caller.
package toolchain

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/polidog/kilar/pkg/errdefs"
	"github.com/polidog/kilar/pkg/model"
)

// DefaultTimeout bounds every tool invocation, ps included.
const DefaultTimeout = 5 * time.Second

// Event reports a resolution step on the Progress channel. Fallback
// events carry the error that disqualified the previous tool.
type Event struct {
	Tool     string
	Fallback bool
	Err      error
}

// Runner executes one external tool and returns its stdout. A non-zero
// exit is an error; when stderr had text it becomes the error message.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// exitError marks a tool that spawned fine but exited non-zero.
type exitError struct {
	tool   string
	stderr string
}

func (e *exitError) Error() string {
	if e.stderr == "" {
		return e.tool + " exited with an error"
	}
	return e.tool + ": " + e.stderr
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, &exitError{tool: name, stderr: strings.TrimSpace(string(ee.Stderr))}
		}
		return nil, errors.Wrap(err, name)
	}
	return out, nil
}

// Resolver is the external-tool resolution chain.
type Resolver struct {
	// Timeout applies to every single tool invocation.
	Timeout time.Duration

	// Progress, when set, receives resolution events. Sends never
	// block; a slow consumer just misses events.
	Progress chan<- Event

	runner Runner
	log    logrus.FieldLogger
}

// New returns a Resolver using the real tools.
func New(log logrus.FieldLogger) *Resolver {
	return &Resolver{
		Timeout: DefaultTimeout,
		runner:  execRunner{},
		log:     log,
	}
}

// ListProcesses returns every listening process for the protocol
// selector, walking the tool chain until one tool answers.
func (r *Resolver) ListProcesses(ctx context.Context, proto model.Protocol) ([]model.ProcessRecord, error) {
	r.emit(Event{Tool: "lsof"})
	records, lsofErr := r.tryLsof(ctx, proto, 0)
	if lsofErr == nil {
		return records, nil
	}
	r.log.WithError(lsofErr).Debug("lsof failed, trying ss")
	r.emit(Event{Tool: "ss", Fallback: true, Err: lsofErr})

	records, ssErr := r.trySS(ctx, proto)
	if ssErr == nil {
		return records, nil
	}
	r.log.WithError(ssErr).Debug("ss failed, trying netstat")
	r.emit(Event{Tool: "netstat", Fallback: true, Err: ssErr})

	records, netstatErr := r.tryNetstat(ctx, proto)
	if netstatErr != nil {
		return nil, errdefs.CommandFailedf(
			"netstat failed: %v. Make sure required system tools are installed", netstatErr)
	}
	return records, nil
}

// CheckPort looks up a single port. lsof is queried for just that port;
// the fallback tools cannot filter, so their full listing is filtered
// here. A free port is (zero, false, nil), not an error.
func (r *Resolver) CheckPort(ctx context.Context, port uint16, proto model.Protocol) (model.ProcessRecord, bool, error) {
	r.emit(Event{Tool: "lsof"})
	records, lsofErr := r.tryLsof(ctx, proto, port)
	if lsofErr == nil {
		return matchPort(records, port, proto)
	}
	r.log.WithError(lsofErr).Debug("lsof failed, trying ss")
	r.emit(Event{Tool: "ss", Fallback: true, Err: lsofErr})

	records, ssErr := r.trySS(ctx, proto)
	if ssErr == nil {
		return matchPort(records, port, proto)
	}
	r.log.WithError(ssErr).Debug("ss failed, trying netstat")
	r.emit(Event{Tool: "netstat", Fallback: true, Err: ssErr})

	records, netstatErr := r.tryNetstat(ctx, proto)
	if netstatErr != nil {
		return model.ProcessRecord{}, false, errdefs.CommandFailedf(
			"netstat failed: %v. Make sure required system tools are installed", netstatErr)
	}
	return matchPort(records, port, proto)
}

func matchPort(records []model.ProcessRecord, port uint16, proto model.Protocol) (model.ProcessRecord, bool, error) {
	for _, rec := range records {
		if rec.Port == port && proto.Matches(rec.Protocol) {
			return rec, true, nil
		}
	}
	return model.ProcessRecord{}, false, nil
}

func (r *Resolver) tryLsof(ctx context.Context, proto model.Protocol, port uint16) ([]model.ProcessRecord, error) {
	// -n skip hostname resolution, -P skip port names, -w no warnings
	args := []string{"-n", "-P", "-w"}
	target := ""
	if port > 0 {
		target = ":" + strconv.Itoa(int(port))
	}
	switch proto {
	case model.UDP:
		args = append(args, "-iUDP"+target)
	case model.All:
		args = append(args, "-i"+target)
	default:
		args = append(args, "-iTCP"+target, "-sTCP:LISTEN")
	}

	out, err := r.run(ctx, "lsof", args...)
	if err != nil {
		// A targeted query exits non-zero with silent stderr when the
		// port is simply free. That is an answer, not a tool failure.
		var ee *exitError
		if port > 0 && errors.As(err, &ee) && ee.stderr == "" {
			return nil, nil
		}
		return nil, err
	}
	return r.finishRecords(ctx, parseLsof(string(out)))
}

func (r *Resolver) trySS(ctx context.Context, proto model.Protocol) ([]model.ProcessRecord, error) {
	out, err := r.run(ctx, "ss", "-n", "-p", listingFlag(proto))
	if err != nil {
		return nil, err
	}
	return r.finishRecords(ctx, parseSS(string(out)))
}

func (r *Resolver) tryNetstat(ctx context.Context, proto model.Protocol) ([]model.ProcessRecord, error) {
	out, err := r.run(ctx, "netstat", "-n", "-p", listingFlag(proto))
	if err != nil {
		return nil, err
	}
	return r.finishRecords(ctx, parseNetstat(string(out)))
}

// listingFlag picks the listening-socket flag shared by ss and netstat.
func listingFlag(proto model.Protocol) string {
	switch proto {
	case model.UDP:
		return "-lu"
	case model.All:
		return "-ltu"
	default:
		return "-lt"
	}
}

// run invokes one tool under the uniform timeout.
func (r *Resolver) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := r.runner.Run(ctx, name, args...)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, errors.Errorf("%s timed out after %s", name, timeout)
	}
	return out, err
}

func (r *Resolver) emit(ev Event) {
	if r.Progress == nil {
		return
	}
	select {
	case r.Progress <- ev:
	default:
	}
}
