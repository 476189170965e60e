package main

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/polidog/kilar/internal/output"
	"github.com/polidog/kilar/internal/portcache"
	"github.com/polidog/kilar/internal/strategy"
	"github.com/polidog/kilar/pkg/errdefs"
	"github.com/polidog/kilar/pkg/model"
)

// watchTailEvents caps the change list shown under the watch table.
const watchTailEvents = 10

type listOptions struct {
	portRange string
	filter    string
	sort      string
	protocol  string
	profile   string
	watch     bool
	history   string
}

type portRange struct {
	lo, hi uint16
}

func (r *portRange) contains(port uint16) bool {
	return port >= r.lo && port <= r.hi
}

func runList(ctx context.Context, e *env, opts listOptions) error {
	proto, err := validateProtocol(opts.protocol)
	if err != nil {
		return err
	}
	if err := validateSort(opts.sort); err != nil {
		return err
	}
	rng, err := parsePortRange(opts.portRange)
	if err != nil {
		return err
	}
	if opts.profile != "" {
		p, ok := strategy.ParseProfile(opts.profile)
		if !ok {
			return errors.Errorf("Invalid profile '%s'. Must be fast, balanced, or complete", opts.profile)
		}
		e.sel.SetProfile(p)
	}

	if opts.watch {
		return runWatch(ctx, e, proto, rng, opts)
	}

	records, err := e.cache.Processes(ctx, proto)
	if err != nil {
		return err
	}
	records = filterRecords(records, rng, opts.filter)
	sortRecords(records, opts.sort)

	if e.jsonOut {
		return output.WriteListJSON(os.Stdout, proto, records, performance(e.sel))
	}
	e.render.Listing(records)

	if opts.history != "" {
		return showHistory(ctx, e, opts.history)
	}
	return nil
}

func runWatch(ctx context.Context, e *env, proto model.Protocol, rng *portRange, opts listOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()

	var hist *portcache.History
	if opts.history != "" {
		h, err := portcache.OpenHistory(opts.history)
		if err != nil {
			return err
		}
		hist = h
		defer hist.Close()
	}

	e.render.MonitorStarted()

	mon := e.cache.StartMonitoring(ctx, proto.Protocols())
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastSeen := time.Now()

	draw := func() error {
		records, err := e.cache.Processes(ctx, proto)
		if err != nil {
			return err
		}
		records = filterRecords(records, rng, opts.filter)
		sortRecords(records, opts.sort)

		if e.tty && !e.quiet {
			e.render.ClearScreen()
		}
		e.render.MonitorHeader(proto, time.Now())
		e.render.Listing(records)

		tail := e.cache.Changes()
		if len(tail) > watchTailEvents {
			tail = tail[len(tail)-watchTailEvents:]
		}
		e.render.Changes(tail)
		return nil
	}

loop:
	for {
		if err := draw(); err != nil {
			if ctx.Err() != nil {
				break loop
			}
			e.log.WithError(err).Debug("refresh failed, keeping previous listing")
		}
		if hist != nil {
			events := e.cache.ChangesSince(lastSeen)
			if len(events) > 0 {
				if err := hist.Record(ctx, events); err != nil {
					e.log.WithError(err).Warn("failed to record port changes")
				} else {
					lastSeen = events[len(events)-1].ObservedAt
				}
			}
		}

		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}

	mon.Stop()
	e.render.MonitorStopped()
	return nil
}

// showHistory prints the stored change tail, oldest first. This is the
// post-mortem view for a file written by an earlier watch run.
func showHistory(ctx context.Context, e *env, path string) error {
	hist, err := portcache.OpenHistory(path)
	if err != nil {
		return err
	}
	defer hist.Close()

	events, err := hist.Recent(ctx, 20)
	if err != nil {
		return err
	}
	e.render.Changes(events)
	return nil
}

func validateSort(s string) error {
	switch s {
	case "port", "pid", "name":
		return nil
	}
	return errors.Errorf("Invalid sort option '%s'. Must be port, pid, or name", s)
}

func parsePortRange(s string) (*portRange, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return nil, errdefs.InvalidPortf("Invalid port range format (e.g., 3000-4000)")
	}
	start, end := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	lo, err := strconv.ParseUint(start, 10, 16)
	if err != nil {
		return nil, errdefs.InvalidPortf("Invalid start port: %s", start)
	}
	hi, err := strconv.ParseUint(end, 10, 16)
	if err != nil {
		return nil, errdefs.InvalidPortf("Invalid end port: %s", end)
	}
	if lo == 0 {
		return nil, errdefs.InvalidPortf("Port number must be greater than 0")
	}
	if lo > hi {
		return nil, errdefs.InvalidPortf("Start port is greater than end port")
	}
	return &portRange{lo: uint16(lo), hi: uint16(hi)}, nil
}

func filterRecords(records []model.ProcessRecord, rng *portRange, filter string) []model.ProcessRecord {
	if rng == nil && filter == "" {
		return records
	}
	needle := strings.ToLower(filter)
	var out []model.ProcessRecord
	for _, rec := range records {
		if rng != nil && !rng.contains(rec.Port) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(rec.Name), needle) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func sortRecords(records []model.ProcessRecord, key string) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		switch key {
		case "pid":
			return a.PID < b.PID
		case "name":
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		default:
			return a.Port < b.Port
		}
	})
}

func performance(sel *strategy.Selector) output.Performance {
	stats := sel.Stats()
	return output.Performance{
		KernelTableAvailable: stats.Available,
		Profile:              string(stats.Profile),
		KernelTableLatency:   stats.KernelTableLatency,
		ToolChainLatency:     stats.ToolChainLatency,
	}
}
