package main

import (
	"context"
	"os"

	"github.com/polidog/kilar/internal/output"
	"github.com/polidog/kilar/pkg/errdefs"
	"github.com/polidog/kilar/pkg/model"
)

// validatePort rejects the zero port, which parses as a uint16 but is
// never bindable.
func validatePort(port uint16) error {
	if port == 0 {
		return errdefs.InvalidPortf("Port number must be greater than 0")
	}
	return nil
}

func validateProtocol(s string) (model.Protocol, error) {
	proto, ok := model.ParseProtocol(s)
	if !ok {
		return "", errdefs.InvalidPortf("Invalid protocol '%s'. Must be tcp, udp, or all", s)
	}
	return proto, nil
}

func runCheck(ctx context.Context, e *env, port uint16, protocol string) error {
	if err := validatePort(port); err != nil {
		return err
	}
	proto, err := validateProtocol(protocol)
	if err != nil {
		return err
	}

	rec, found, err := e.cache.Port(ctx, port, proto)
	if err != nil {
		if e.jsonOut {
			if jerr := output.WriteCheckJSON(os.Stdout, port, proto, nil, err); jerr != nil {
				return jerr
			}
		}
		return err
	}

	if e.jsonOut {
		var p *model.ProcessRecord
		if found {
			p = &rec
		}
		return output.WriteCheckJSON(os.Stdout, port, proto, p, nil)
	}

	if found {
		e.render.CheckInUse(port, proto, rec, e.verbose)
	} else {
		e.render.CheckAvailable(port, proto)
	}
	return nil
}
