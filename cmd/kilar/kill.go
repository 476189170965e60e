package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/polidog/kilar/internal/output"
	"github.com/polidog/kilar/internal/process"
	"github.com/polidog/kilar/pkg/errdefs"
)

func runKill(ctx context.Context, e *env, port uint16, protocol string, force bool) error {
	if err := validatePort(port); err != nil {
		return err
	}
	proto, err := validateProtocol(protocol)
	if err != nil {
		return err
	}

	rec, found, err := e.cache.Port(ctx, port, proto)
	if err != nil {
		return err
	}
	if !found {
		if e.jsonOut {
			notInUse := errors.Errorf("Port %s:%d is not in use", strings.ToUpper(string(proto)), port)
			if jerr := output.WriteKillJSON(os.Stdout, port, proto, output.ActionNotFound, nil, notInUse); jerr != nil {
				return jerr
			}
		} else {
			e.render.PortFree(port, proto)
		}
		return errdefs.PortNotFound(port)
	}

	// JSON callers are scripts; never block them on a prompt.
	if !force && !e.jsonOut {
		e.render.KillPrompt(rec, port, proto)
		if !confirm(e.stdin) {
			e.render.Cancelled()
			return nil
		}
	}

	killer := process.New(e.log)
	if err := killer.Terminate(ctx, rec.PID); err != nil {
		if e.jsonOut {
			if jerr := output.WriteKillJSON(os.Stdout, port, proto, output.ActionFailed, &rec, err); jerr != nil {
				return jerr
			}
			return err
		}
		e.render.KillFailed(err)
		return err
	}

	// The old listing is wrong the moment the process dies.
	e.cache.ForceRefresh()

	if e.jsonOut {
		return output.WriteKillJSON(os.Stdout, port, proto, output.ActionKilled, &rec, nil)
	}
	e.render.Killed(rec, port, proto, e.verbose)
	return nil
}

// confirm reads one line and accepts only an explicit yes.
func confirm(r io.Reader) bool {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
