package model

import "strings"

// Unknown marks process metadata that could not be read, usually
// because the process belongs to another user.
const Unknown = "Unknown"

// WildcardAddr is how an all-zero bind address is rendered.
const WildcardAddr = "*"

// ProcessRecord describes one process bound to one listening socket.
// A process listening on several ports appears once per port.
type ProcessRecord struct {
	PID            uint32   `json:"pid"`
	Name           string   `json:"name"`
	Command        string   `json:"command"`
	ExecutablePath string   `json:"executable_path"`
	WorkingDir     string   `json:"working_directory"`
	Port           uint16   `json:"port"`
	Protocol       Protocol `json:"protocol"`
	Address        string   `json:"address"`

	// Inode is the kernel socket inode when the record came from the
	// network pseudo-files. Real socket inodes are never zero, so zero
	// means "not known" (tool output carries no inode).
	Inode uint64 `json:"inode,omitempty"`
}

var (
	runtimeExeMarkers = []string{"/node", "/python", "/ruby", "/java"}
	devCmdMarkers     = []string{"npm", "yarn", "pnpm", "next", "serve", "dev"}
)

// DisplayPath picks the most identifying path for the record. Dev
// servers all look like the same interpreter binary, so for those the
// working directory says more than the executable.
func (p ProcessRecord) DisplayPath() string {
	if p.WorkingDir == "/" || p.WorkingDir == Unknown || p.WorkingDir == "" {
		return p.ExecutablePath
	}
	for _, m := range runtimeExeMarkers {
		if strings.Contains(p.ExecutablePath, m) {
			return p.WorkingDir
		}
	}
	for _, m := range devCmdMarkers {
		if strings.Contains(p.Command, m) {
			return p.WorkingDir
		}
	}
	return p.ExecutablePath
}

// Same reports whether two records describe the same process state for
// change detection: pid, name, command line, or executable moving all
// count as a modification. Address and inode churn does not.
func (p ProcessRecord) Same(other ProcessRecord) bool {
	return p.PID == other.PID &&
		p.Name == other.Name &&
		p.Command == other.Command &&
		p.ExecutablePath == other.ExecutablePath
}
