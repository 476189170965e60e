// Package output renders resolved port listings for humans and
// machines. Every string that originates in another process is passed
// through Sanitize before it reaches the terminal.
package output

import (
	"fmt"
	"io"
)

// ansiString marks a value as trusted terminal control data. The
// Printer sanitizes every other string-like argument, so color codes
// must be typed ansiString to survive the trip.
type ansiString string

const (
	colorReset  ansiString = "\033[0m"
	colorBold   ansiString = "\033[1m"
	colorDim    ansiString = "\033[2m"
	colorRed    ansiString = "\033[31m"
	colorGreen  ansiString = "\033[32m"
	colorYellow ansiString = "\033[33m"
	colorBlue   ansiString = "\033[34m"
)

// clearScreen wipes the display and homes the cursor.
const clearScreen = "\033[2J\033[1;1H"

// Printer formats values onto a terminal. String, []byte, error and
// Stringer arguments are sanitized; ansiString passes through raw.
type Printer struct {
	w io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, sanitizeArgs(args)...)
}

func (p *Printer) Println(args ...any) {
	fmt.Fprintln(p.w, sanitizeArgs(args)...)
}

func sanitizeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		switch v := arg.(type) {
		case ansiString:
			out[i] = string(v)
		case string:
			out[i] = Sanitize(v)
		case []byte:
			out[i] = Sanitize(string(v))
		case error:
			out[i] = Sanitize(v.Error())
		case fmt.Stringer:
			out[i] = Sanitize(v.String())
		default:
			out[i] = arg
		}
	}
	return out
}

// SafeWriter sanitizes everything written through it. It fronts
// renderers that write third-party formatted output, like the listing
// table, where individual cells cannot be intercepted.
type SafeWriter struct {
	w io.Writer
}

func NewSafeWriter(w io.Writer) *SafeWriter {
	return &SafeWriter{w: w}
}

func (s *SafeWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(s.w, Sanitize(string(p))); err != nil {
		return 0, err
	}
	// report the caller's byte count, not the expanded one, so wrapped
	// writers never see a short-write error
	return len(p), nil
}
