// Package procnet resolves listening ports to processes by reading the
// kernel's network pseudo-files directly, with no subprocesses.
package procnet

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/Velocidex/ttlcache/v2"
	"github.com/sirupsen/logrus"

	"github.com/polidog/kilar/pkg/errdefs"
	"github.com/polidog/kilar/pkg/model"
)

const (
	// Per-pid details barely change within a burst of calls, so they
	// are cached briefly to avoid re-reading the metadata files.
	detailTTL       = 2 * time.Second
	detailCacheSize = 4096
)

// Resolver answers port queries from the /proc network tables.
type Resolver struct {
	// Root is the procfs mount point. Tests point it at a fabricated
	// directory tree.
	Root string

	log     logrus.FieldLogger
	details *ttlcache.Cache
}

// New returns a Resolver reading from root (normally "/proc").
func New(root string, log logrus.FieldLogger) *Resolver {
	cache := ttlcache.NewCache()
	cache.SetTTL(detailTTL)
	cache.SetCacheSizeLimit(detailCacheSize)
	cache.SkipTTLExtensionOnHit(true)

	return &Resolver{
		Root:    root,
		log:     log,
		details: cache,
	}
}

// Available reports whether the network tables exist under Root. When
// they do not (non-Linux hosts, hidden procfs), callers must use the
// external tool chain instead.
func (r *Resolver) Available() bool {
	for _, name := range []string{"net/tcp", "net/udp"} {
		if _, err := os.Stat(filepath.Join(r.Root, name)); err != nil {
			return false
		}
	}
	return true
}

// ListProcesses returns every listening process for the protocol
// selector. Sockets whose owning process cannot be identified are
// dropped.
func (r *Resolver) ListProcesses(ctx context.Context, proto model.Protocol) ([]model.ProcessRecord, error) {
	start := time.Now()

	partial := r.readTables(proto)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	owners, err := r.inodeOwners()
	if err != nil {
		return nil, err
	}

	records := make([]model.ProcessRecord, 0, len(partial))
	for _, rec := range partial {
		pid, ok := owners[rec.Inode]
		if !ok {
			// Orphaned kernel socket, nothing to report on it.
			continue
		}
		rec.PID = pid
		d := r.detailsFor(pid)
		rec.Name = d.name
		rec.Command = d.command
		rec.ExecutablePath = d.exe
		rec.WorkingDir = d.workingDir
		records = append(records, rec)
	}

	r.log.WithFields(logrus.Fields{
		"protocol": proto,
		"records":  len(records),
		"elapsed":  time.Since(start),
	}).Debug("kernel table scan")

	return records, nil
}

// CheckPort reports the first process listening on port. The kernel
// tables cannot be queried per-port, so this is a full scan plus a
// filter.
func (r *Resolver) CheckPort(ctx context.Context, port uint16, proto model.Protocol) (model.ProcessRecord, bool, error) {
	records, err := r.ListProcesses(ctx, proto)
	if err != nil {
		return model.ProcessRecord{}, false, err
	}
	for _, rec := range records {
		if rec.Port == port && proto.Matches(rec.Protocol) {
			return rec, true, nil
		}
	}
	return model.ProcessRecord{}, false, nil
}

// Enrich re-reads process metadata bypassing the detail cache and fills
// in fields the cheap pass left Unknown.
func (r *Resolver) Enrich(rec model.ProcessRecord) model.ProcessRecord {
	if rec.PID == 0 {
		return rec
	}
	d := readDetails(r.Root, rec.PID)
	if rec.Name == model.Unknown || rec.Name == "" {
		rec.Name = d.name
	}
	if rec.Command == model.Unknown || rec.Command == "" {
		rec.Command = d.command
	}
	if rec.ExecutablePath == model.Unknown || rec.ExecutablePath == "" {
		rec.ExecutablePath = d.exe
	}
	if rec.WorkingDir == model.Unknown || rec.WorkingDir == "" {
		rec.WorkingDir = d.workingDir
	}
	return rec
}

// ClearCache drops all cached per-pid details.
func (r *Resolver) ClearCache() {
	_ = r.details.Purge()
}

// Close releases the detail cache's janitor.
func (r *Resolver) Close() {
	r.details.Close()
}

// inodeOwners walks every numeric process directory and maps socket
// inodes to the owning pid. Unreadable fd directories (other users'
// processes) are skipped.
func (r *Resolver) inodeOwners() (map[uint64]uint32, error) {
	owners := make(map[uint64]uint32)

	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return nil, errdefs.WrapIO(err, "scan process directories")
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconvPid(e.Name())
		if err != nil {
			continue
		}

		fdDir := filepath.Join(r.Root, e.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			inode, ok := socketInode(link)
			if !ok {
				continue
			}
			owners[inode] = pid
		}
	}
	return owners, nil
}
