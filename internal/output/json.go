package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/polidog/kilar/pkg/model"
)

// Kill actions reported in machine output.
const (
	ActionKilled   = "killed"
	ActionFailed   = "failed"
	ActionNotFound = "not_found"
)

// Performance carries the resolver stats into machine output. Zero
// latencies mean the path was never benchmarked and serialize as null.
type Performance struct {
	KernelTableAvailable bool
	Profile              string
	KernelTableLatency   time.Duration
	ToolChainLatency     time.Duration
}

type processPayload struct {
	PID     uint32 `json:"pid"`
	Name    string `json:"name"`
	Command string `json:"command,omitempty"`
}

type checkPayload struct {
	Port     uint16          `json:"port"`
	Protocol model.Protocol  `json:"protocol"`
	Status   string          `json:"status"`
	Process  *processPayload `json:"process,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type killPayload struct {
	Port     uint16          `json:"port"`
	Protocol model.Protocol  `json:"protocol"`
	Action   string          `json:"action"`
	Process  *processPayload `json:"process,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// On the wire the kernel tables report as "procfs" and the tool chain
// as "legacy".
type performancePayload struct {
	KernelTableAvailable bool   `json:"procfs_available"`
	Profile              string `json:"profile"`
	KernelTableTimeMs    *int64 `json:"procfs_time_ms"`
	ToolChainTimeMs      *int64 `json:"legacy_time_ms"`
}

type listPayload struct {
	Protocol       model.Protocol        `json:"protocol"`
	TotalProcesses int                   `json:"total_processes"`
	Processes      []model.ProcessRecord `json:"processes"`
	Performance    performancePayload    `json:"performance"`
}

// WriteCheckJSON emits the check result. A nil record with a nil error
// means the port is available.
func WriteCheckJSON(w io.Writer, port uint16, proto model.Protocol, rec *model.ProcessRecord, checkErr error) error {
	p := checkPayload{Port: port, Protocol: proto, Status: "available"}
	switch {
	case checkErr != nil:
		p.Status = "error"
		p.Error = checkErr.Error()
	case rec != nil:
		p.Status = "occupied"
		p.Process = procPayload(rec)
	}
	return writeJSON(w, p)
}

// WriteKillJSON emits the kill outcome. The process block carries only
// pid and name; the command line is check's concern.
func WriteKillJSON(w io.Writer, port uint16, proto model.Protocol, action string, rec *model.ProcessRecord, killErr error) error {
	p := killPayload{Port: port, Protocol: proto, Action: action}
	if rec != nil {
		p.Process = &processPayload{PID: rec.PID, Name: rec.Name}
	}
	if killErr != nil {
		p.Error = killErr.Error()
	}
	return writeJSON(w, p)
}

// WriteListJSON emits the full listing with resolver performance.
func WriteListJSON(w io.Writer, proto model.Protocol, records []model.ProcessRecord, perf Performance) error {
	if records == nil {
		records = []model.ProcessRecord{}
	}
	p := listPayload{
		Protocol:       proto,
		TotalProcesses: len(records),
		Processes:      records,
		Performance: performancePayload{
			KernelTableAvailable: perf.KernelTableAvailable,
			Profile:              perf.Profile,
			KernelTableTimeMs:    millis(perf.KernelTableLatency),
			ToolChainTimeMs:      millis(perf.ToolChainLatency),
		},
	}
	return writeJSON(w, p)
}

func procPayload(rec *model.ProcessRecord) *processPayload {
	if rec == nil {
		return nil
	}
	return &processPayload{PID: rec.PID, Name: rec.Name, Command: rec.Command}
}

func millis(d time.Duration) *int64 {
	if d == 0 {
		return nil
	}
	ms := d.Milliseconds()
	return &ms
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
