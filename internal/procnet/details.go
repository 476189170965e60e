package procnet

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/polidog/kilar/pkg/model"
)

type procDetails struct {
	name       string
	command    string
	exe        string
	workingDir string
}

func (r *Resolver) detailsFor(pid uint32) procDetails {
	key := strconv.FormatUint(uint64(pid), 10)
	if cached, err := r.details.Get(key); err == nil {
		if d, ok := cached.(procDetails); ok {
			return d
		}
	}
	d := readDetails(r.Root, pid)
	_ = r.details.Set(key, d)
	return d
}

// readDetails reads the per-process metadata files. Every failed read
// degrades its one field to Unknown instead of failing the record.
func readDetails(root string, pid uint32) procDetails {
	base := filepath.Join(root, strconv.FormatUint(uint64(pid), 10))
	d := procDetails{
		name:       model.Unknown,
		command:    model.Unknown,
		exe:        model.Unknown,
		workingDir: model.Unknown,
	}

	if b, err := os.ReadFile(filepath.Join(base, "comm")); err == nil {
		if name := strings.TrimSpace(string(b)); name != "" {
			d.name = name
		}
	}

	if b, err := os.ReadFile(filepath.Join(base, "cmdline")); err == nil {
		cmd := strings.TrimSpace(strings.ReplaceAll(string(b), "\x00", " "))
		if cmd != "" {
			d.command = cmd
			// Best guess until the exe link proves readable.
			d.exe = strings.Fields(cmd)[0]
		}
	}

	if link, err := os.Readlink(filepath.Join(base, "cwd")); err == nil {
		d.workingDir = link
	}
	if link, err := os.Readlink(filepath.Join(base, "exe")); err == nil {
		d.exe = link
	}

	return d
}
