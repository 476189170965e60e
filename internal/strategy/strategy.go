// Package strategy picks between the kernel-table and tool-chain
// resolution paths per performance profile, benchmarking both when the
// profile calls for it.
package strategy

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polidog/kilar/internal/procnet"
	"github.com/polidog/kilar/internal/toolchain"
	"github.com/polidog/kilar/pkg/model"
)

// Profile selects the speed/completeness trade-off.
type Profile string

const (
	// Fast favors simplicity: full listings always use the tool chain,
	// single-port checks prefer the kernel tables.
	Fast Profile = "fast"
	// Balanced benchmarks both paths and serves listings from the
	// faster one.
	Balanced Profile = "balanced"
	// Complete prefers the kernel tables and enriches sparse records.
	Complete Profile = "complete"
)

// ParseProfile normalizes a user-supplied profile name.
func ParseProfile(s string) (Profile, bool) {
	switch Profile(strings.ToLower(s)) {
	case Fast:
		return Fast, true
	case Balanced, "":
		return Balanced, true
	case Complete:
		return Complete, true
	}
	return "", false
}

const benchmarkInterval = 30 * time.Minute

// Resolver is the contract shared by both resolution paths.
type Resolver interface {
	ListProcesses(ctx context.Context, proto model.Protocol) ([]model.ProcessRecord, error)
	CheckPort(ctx context.Context, port uint16, proto model.Protocol) (model.ProcessRecord, bool, error)
}

// KernelResolver adds the kernel-path extras the selector needs.
type KernelResolver interface {
	Resolver
	Available() bool
	Enrich(rec model.ProcessRecord) model.ProcessRecord
	ClearCache()
}

var (
	_ KernelResolver = (*procnet.Resolver)(nil)
	_ Resolver       = (*toolchain.Resolver)(nil)
)

// Stats exposes the selector's benchmark state.
type Stats struct {
	Available          bool
	KernelTableLatency time.Duration
	ToolChainLatency   time.Duration
	Profile            Profile
}

// Selector routes queries to a resolution path according to the active
// profile. Safe for concurrent use.
type Selector struct {
	mu            sync.Mutex
	kernel        KernelResolver
	tools         Resolver
	profile       Profile
	useKernel     bool
	lastBenchmark time.Time
	kernelLatency time.Duration
	toolLatency   time.Duration

	now func() time.Time
	log logrus.FieldLogger
}

// New builds a Selector. The kernel path is only ever used when its
// tables actually exist on this host.
func New(kernel KernelResolver, tools Resolver, profile Profile, log logrus.FieldLogger) *Selector {
	return &Selector{
		kernel:    kernel,
		tools:     tools,
		profile:   profile,
		useKernel: kernel.Available(),
		now:       time.Now,
		log:       log,
	}
}

// ListProcesses lists all listeners via the path the profile dictates.
func (s *Selector) ListProcesses(ctx context.Context, proto model.Protocol) ([]model.ProcessRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.profile {
	case Fast:
		// Deliberately not the kernel path, even when it is faster:
		// full listings in fast mode favor the simpler tool chain.
		return s.tools.ListProcesses(ctx, proto)
	case Complete:
		return s.listComplete(ctx, proto)
	default:
		return s.listBalanced(ctx, proto)
	}
}

// CheckPort resolves one port, preferring the kernel tables whenever
// they are available and falling back to the tool chain on error.
func (s *Selector) CheckPort(ctx context.Context, port uint16, proto model.Protocol) (model.ProcessRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.useKernel {
		rec, ok, err := s.kernel.CheckPort(ctx, port, proto)
		if err == nil {
			return rec, ok, nil
		}
		s.log.WithError(err).Debug("kernel table check failed, using tool chain")
	}
	return s.tools.CheckPort(ctx, port, proto)
}

func (s *Selector) listBalanced(ctx context.Context, proto model.Protocol) ([]model.ProcessRecord, error) {
	if s.useKernel && s.shouldBenchmark() {
		s.benchmark(ctx, proto)
	}

	// The kernel path must have proven strictly faster; absent or tied
	// measurements default to the tool chain.
	preferKernel := s.useKernel &&
		s.kernelLatency > 0 && s.toolLatency > 0 &&
		s.kernelLatency < s.toolLatency

	if preferKernel {
		records, err := s.kernel.ListProcesses(ctx, proto)
		if err == nil {
			return records, nil
		}
		s.log.WithError(err).Debug("kernel table listing failed, using tool chain")
	}
	return s.tools.ListProcesses(ctx, proto)
}

func (s *Selector) listComplete(ctx context.Context, proto model.Protocol) ([]model.ProcessRecord, error) {
	if s.useKernel {
		records, err := s.kernel.ListProcesses(ctx, proto)
		if err == nil {
			for i, rec := range records {
				if sparse(rec) {
					records[i] = s.kernel.Enrich(rec)
				}
			}
			return records, nil
		}
		s.log.WithError(err).Debug("kernel table listing failed, using tool chain")
	}
	return s.tools.ListProcesses(ctx, proto)
}

func sparse(rec model.ProcessRecord) bool {
	return rec.Name == model.Unknown ||
		rec.Command == model.Unknown ||
		rec.ExecutablePath == model.Unknown ||
		rec.WorkingDir == model.Unknown
}

// shouldBenchmark triggers a re-measure when anything is missing, the
// last measurement has aged out, or the two latencies sit within 20%
// of each other (no clear winner, so the numbers are noise).
func (s *Selector) shouldBenchmark() bool {
	if s.lastBenchmark.IsZero() || s.kernelLatency == 0 || s.toolLatency == 0 {
		return true
	}
	if s.now().Sub(s.lastBenchmark) > benchmarkInterval {
		return true
	}
	ratio := s.kernelLatency.Seconds() / s.toolLatency.Seconds()
	return ratio > 0.8 && ratio < 1.2
}

// benchmark runs both paths once and records their latencies. Errors
// count as a measurement; a failing path still takes time.
func (s *Selector) benchmark(ctx context.Context, proto model.Protocol) {
	s.lastBenchmark = s.now()

	start := time.Now()
	_, _ = s.kernel.ListProcesses(ctx, proto)
	s.kernelLatency = time.Since(start)

	start = time.Now()
	_, _ = s.tools.ListProcesses(ctx, proto)
	s.toolLatency = time.Since(start)

	s.log.WithFields(logrus.Fields{
		"kernel": s.kernelLatency,
		"tools":  s.toolLatency,
	}).Debug("benchmarked resolution paths")
}

// SetProfile switches profiles at runtime. Entering Balanced drops all
// benchmark state so the next listing re-measures both paths.
func (s *Selector) SetProfile(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
	if p == Balanced {
		s.lastBenchmark = time.Time{}
		s.kernelLatency = 0
		s.toolLatency = 0
	}
}

// Profile returns the active profile.
func (s *Selector) Profile() Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Stats reports availability and the most recent benchmark numbers.
func (s *Selector) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Available:          s.useKernel,
		KernelTableLatency: s.kernelLatency,
		ToolChainLatency:   s.toolLatency,
		Profile:            s.profile,
	}
}

// ClearCache drops the kernel path's per-pid detail cache.
func (s *Selector) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kernel.ClearCache()
}

// SetKernelEnabled overrides kernel-path usage, still bounded by table
// availability. Meant for debugging.
func (s *Selector) SetKernelEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.useKernel = enabled && s.kernel.Available()
}
