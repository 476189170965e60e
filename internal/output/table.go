package output

import (
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/polidog/kilar/pkg/model"
)

// Column widths match what fits a default terminal next to the fixed
// port and pid columns.
const (
	maxNameWidth    = 18
	maxPathWidth    = 38
	maxCommandWidth = 40
)

// WriteTable renders records as the listing table. The table writes
// through a SafeWriter because cell contents are process-controlled.
func WriteTable(w io.Writer, records []model.ProcessRecord) {
	table := tablewriter.NewWriter(NewSafeWriter(w))
	table.SetHeader([]string{"PORT", "PROTOCOL", "PROCESS", "PID", "PATH", "COMMAND"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for _, rec := range records {
		table.Append([]string{
			strconv.Itoa(int(rec.Port)),
			strings.ToUpper(string(rec.Protocol)),
			ellipsize(rec.Name, maxNameWidth),
			strconv.Itoa(int(rec.PID)),
			ellipsize(rec.DisplayPath(), maxPathWidth),
			ellipsize(rec.Command, maxCommandWidth),
		})
	}
	table.Render()
}

// ellipsize truncates s to max display runes, marking the cut with
// "...". Counting runes rather than bytes keeps multibyte command
// lines from being split mid-character.
func ellipsize(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
