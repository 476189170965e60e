package output

import (
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/polidog/kilar/pkg/model"
)

// Renderer writes the human-readable command output. Machine output
// goes through the JSON helpers instead. Quiet mode silences every
// status line; prompts and failure lines still print.
type Renderer struct {
	w     io.Writer
	p     *Printer
	ep    *Printer
	color bool
	quiet bool
}

// NewRenderer writes status output to w and failure lines to ew.
func NewRenderer(w, ew io.Writer, color, quiet bool) *Renderer {
	return &Renderer{w: w, p: NewPrinter(w), ep: NewPrinter(ew), color: color, quiet: quiet}
}

// c returns the escape code when color is on and an empty ansiString
// otherwise, so call sites need no branching.
func (r *Renderer) c(code ansiString) ansiString {
	if !r.color {
		return ""
	}
	return code
}

func protoLabel(p model.Protocol) string {
	return strings.ToUpper(string(p))
}

// CheckInUse reports an occupied port with the owning process.
func (r *Renderer) CheckInUse(port uint16, proto model.Protocol, rec model.ProcessRecord, verbose bool) {
	if r.quiet {
		return
	}
	r.p.Printf("%s✓%s %s:%d is in use\n", r.c(colorGreen), r.c(colorReset), protoLabel(rec.Protocol), port)
	r.p.Printf("  PID: %d\n", rec.PID)
	r.p.Printf("  Process: %s\n", rec.Name)
	if verbose {
		r.p.Printf("  Path: %s\n", rec.DisplayPath())
		r.p.Printf("  Command: %s\n", rec.Command)
		r.p.Printf("  Address: %s\n", rec.Address)
	}
}

// CheckAvailable reports a free port.
func (r *Renderer) CheckAvailable(port uint16, proto model.Protocol) {
	if r.quiet {
		return
	}
	r.p.Printf("%s○%s %s:%d is available\n", r.c(colorBlue), r.c(colorReset), protoLabel(proto), port)
}

// KillPrompt writes the confirmation question without a newline so the
// answer is typed on the same line. Never silenced: a prompt the user
// cannot see is a hang.
func (r *Renderer) KillPrompt(rec model.ProcessRecord, port uint16, proto model.Protocol) {
	r.p.Printf("Kill process %s (PID: %d) using %s:%d? [y/N] ", rec.Name, rec.PID, protoLabel(proto), port)
}

// Cancelled reports a declined confirmation.
func (r *Renderer) Cancelled() {
	if r.quiet {
		return
	}
	r.p.Printf("%s×%s Operation cancelled\n", r.c(colorYellow), r.c(colorReset))
}

// Killed reports a successful termination.
func (r *Renderer) Killed(rec model.ProcessRecord, port uint16, proto model.Protocol, verbose bool) {
	if r.quiet {
		return
	}
	r.p.Printf("%s✓%s Killed process %s (PID: %d)\n", r.c(colorGreen), r.c(colorReset), rec.Name, rec.PID)
	if verbose {
		r.p.Printf("  Process was using port %d\n", port)
		r.p.Printf("  Protocol: %s\n", protoLabel(proto))
	}
}

// KillFailed reports a termination failure on the error stream.
func (r *Renderer) KillFailed(err error) {
	r.ep.Printf("%s×%s Failed to kill process: %s\n", r.c(colorRed), r.c(colorReset), err)
}

// PortFree reports that a kill target has nothing listening on it.
func (r *Renderer) PortFree(port uint16, proto model.Protocol) {
	if r.quiet {
		return
	}
	r.ep.Printf("%s×%s Port %s:%d is not in use\n", r.c(colorRed), r.c(colorReset), protoLabel(proto), port)
}

// Listing renders the full port table with its title and total.
func (r *Renderer) Listing(records []model.ProcessRecord) {
	if r.quiet {
		return
	}
	if len(records) == 0 {
		r.Empty()
		return
	}
	r.p.Printf("%sPorts in use:%s\n\n", r.c(colorBold), r.c(colorReset))
	WriteTable(r.w, records)
	r.p.Printf("\nTotal: %d processes\n", len(records))
}

// Empty reports a listing with no occupied ports.
func (r *Renderer) Empty() {
	if r.quiet {
		return
	}
	r.p.Printf("%s○%s No ports in use found\n", r.c(colorBlue), r.c(colorReset))
}

// MonitorStarted announces watch mode.
func (r *Renderer) MonitorStarted() {
	if r.quiet {
		return
	}
	r.p.Printf("%s●%s Starting port monitoring... (Press Ctrl+C to stop)\n\n", r.c(colorGreen), r.c(colorReset))
}

// ClearScreen wipes the display before a watch redraw. Callers gate
// this on the output being a real terminal.
func (r *Renderer) ClearScreen() {
	r.p.Printf("%s", ansiString(clearScreen))
}

// MonitorHeader writes the per-redraw status line.
func (r *Renderer) MonitorHeader(proto model.Protocol, refreshedAt time.Time) {
	if r.quiet {
		return
	}
	r.p.Printf("%s●%s Port Monitor - %s | Last updated: %s\n\n",
		r.c(colorGreen), r.c(colorReset), protoLabel(proto), refreshedAt.UTC().Format("15:04:05"))
}

// MonitorStopped announces the end of watch mode.
func (r *Renderer) MonitorStopped() {
	if r.quiet {
		return
	}
	r.p.Printf("\n%s○%s Monitoring stopped\n", r.c(colorBlue), r.c(colorReset))
}

// Changes renders the recent change tail under the watch table, newest
// last.
func (r *Renderer) Changes(events []model.ChangeEvent) {
	if r.quiet || len(events) == 0 {
		return
	}
	r.p.Printf("\n%sRecent changes:%s\n", r.c(colorBold), r.c(colorReset))
	for _, ev := range events {
		sym, col := changeMark(ev.Kind)
		r.p.Printf("  %s%s%s %s %s:%d %s (pid %d) %s%s%s\n",
			r.c(col), sym, r.c(colorReset),
			string(ev.Kind), string(ev.Record.Protocol), ev.Record.Port,
			ev.Record.Name, ev.Record.PID,
			r.c(colorDim), humanize.Time(ev.ObservedAt), r.c(colorReset))
	}
}

func changeMark(kind model.ChangeKind) (string, ansiString) {
	switch kind {
	case model.ChangeAdded:
		return "+", colorGreen
	case model.ChangeRemoved:
		return "-", colorRed
	default:
		return "~", colorYellow
	}
}
