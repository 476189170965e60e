package toolchain

import (
	"context"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/polidog/kilar/pkg/model"
)

// finishRecords turns parsed partials into full records: one batched ps
// call for all command lines, then per-pid executable and working
// directory lookups, memoized so a pid with many ports is read once.
func (r *Resolver) finishRecords(ctx context.Context, partials []partial) ([]model.ProcessRecord, error) {
	if len(partials) == 0 {
		return nil, nil
	}

	pids := make([]uint32, 0, len(partials))
	seen := make(map[uint32]bool, len(partials))
	for _, p := range partials {
		if !seen[p.pid] {
			seen[p.pid] = true
			pids = append(pids, p.pid)
		}
	}

	commands, err := r.commandsBatch(ctx, pids)
	if err != nil {
		return nil, err
	}

	details := make(map[uint32]lsofDetail, len(pids))
	records := make([]model.ProcessRecord, 0, len(partials))
	for _, p := range partials {
		command, ok := commands[p.pid]
		if !ok {
			command = p.fallbackCommand
		}

		d, cached := details[p.pid]
		if !cached {
			d = r.lsofDetail(ctx, p.pid)
			details[p.pid] = d
		}
		executable := d.executable
		if executable == "" {
			executable = extractExecutable(command)
		}
		workingDir := d.workingDir
		if workingDir == "" {
			workingDir = model.Unknown
		}

		records = append(records, model.ProcessRecord{
			PID:            p.pid,
			Name:           extractName(command),
			Command:        command,
			ExecutablePath: executable,
			WorkingDir:     workingDir,
			Port:           p.port,
			Protocol:       p.proto,
			Address:        p.address,
		})
	}
	return records, nil
}

// commandsBatch resolves command lines for all pids with one ps call.
// A non-zero ps exit (some pid already gone) is tolerated; pids the
// batch missed get an individual ps query.
func (r *Resolver) commandsBatch(ctx context.Context, pids []uint32) (map[uint32]string, error) {
	commands := make(map[uint32]string, len(pids))
	if len(pids) == 0 {
		return commands, nil
	}

	list := make([]string, len(pids))
	for i, pid := range pids {
		list[i] = strconv.FormatUint(uint64(pid), 10)
	}

	out, err := r.run(ctx, "ps", "-p", strings.Join(list, ","), "-o", "pid=,command=")
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) {
			return nil, err
		}
	} else {
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			idx := strings.IndexFunc(line, unicode.IsSpace)
			if idx < 0 {
				continue
			}
			pid, perr := parsePid(line[:idx])
			if perr != nil {
				continue
			}
			commands[pid] = strings.TrimSpace(line[idx:])
		}
	}

	for _, pid := range pids {
		if _, ok := commands[pid]; ok {
			continue
		}
		if cmd, cerr := r.processCommand(ctx, pid); cerr == nil {
			commands[pid] = cmd
		}
	}
	return commands, nil
}

func (r *Resolver) processCommand(ctx context.Context, pid uint32) (string, error) {
	out, err := r.run(ctx, "ps", "-p", strconv.FormatUint(uint64(pid), 10), "-o", "command=")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

type lsofDetail struct {
	executable string
	workingDir string
}

// systemPathFragments are txt mappings every process carries that say
// nothing about which program it is.
var systemPathFragments = []string{
	"/usr/lib",
	"/System/Library",
	"/usr/share",
	"/Library/Preferences/Logging",
	"/private/var/db",
}

// lsofDetail reads a process's executable and working directory from
// one `lsof -p` listing. Failures leave the fields empty; callers fall
// back to command-line guesses.
func (r *Resolver) lsofDetail(ctx context.Context, pid uint32) lsofDetail {
	var d lsofDetail
	out, err := r.run(ctx, "lsof", "-p", strconv.FormatUint(uint64(pid), 10))
	if err != nil {
		return d
	}
	for _, line := range strings.Split(string(out), "\n") {
		parts := strings.Fields(line)
		if len(parts) < 9 {
			continue
		}
		switch {
		case d.executable == "" && parts[3] == "txt" && parts[4] == "REG":
			if path := strings.Join(parts[8:], " "); !systemPath(path) {
				d.executable = path
			}
		case d.workingDir == "" && parts[3] == "cwd" && parts[4] == "DIR":
			d.workingDir = strings.Join(parts[8:], " ")
		}
		if d.executable != "" && d.workingDir != "" {
			break
		}
	}
	return d
}

func systemPath(path string) bool {
	for _, frag := range systemPathFragments {
		if strings.Contains(path, frag) {
			return true
		}
	}
	return strings.HasSuffix(path, "/dyld")
}
