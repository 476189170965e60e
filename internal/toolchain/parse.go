package toolchain

import (
	"strconv"
	"strings"

	"github.com/polidog/kilar/pkg/model"
)

// partial is a record parsed from tool output before the batched ps
// pass fills in the command line.
type partial struct {
	pid     uint32
	port    uint16
	proto   model.Protocol
	address string
	// fallbackCommand stands in when ps cannot name the pid. lsof
	// contributes its COMMAND column, netstat its pid/name column, ss
	// has nothing.
	fallbackCommand string
}

// parseLsof reads `lsof -n -P -w -i...` output. Columns: COMMAND PID
// USER FD TYPE DEVICE SIZE/OFF NODE NAME, with NAME ending in
// `address:port`.
func parseLsof(out string) []partial {
	var partials []partial
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if i == 0 {
			continue // header
		}
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}

		command := fields[0]
		typeField := fields[4]
		nodeField := fields[7]
		nameField := fields[8]

		if !strings.Contains(typeField, "IPv4") && !strings.Contains(typeField, "IPv6") {
			continue
		}
		pid, err := parsePid(fields[1])
		if err != nil {
			continue
		}
		address, port, ok := splitHostPort(nameField)
		if !ok {
			continue
		}

		partials = append(partials, partial{
			pid:             pid,
			port:            port,
			proto:           lsofProtocol(nodeField, nameField, typeField),
			address:         address,
			fallbackCommand: command,
		})
	}
	return partials
}

// lsofProtocol infers the protocol with a fixed precedence: the NODE
// column, then the NAME column, then the TYPE column, default tcp.
func lsofProtocol(nodeField, nameField, typeField string) model.Protocol {
	for _, s := range []string{nodeField, nameField, typeField} {
		switch {
		case strings.Contains(s, "TCP") || strings.Contains(s, "tcp"):
			return model.TCP
		case strings.Contains(s, "UDP") || strings.Contains(s, "udp"):
			return model.UDP
		}
	}
	return model.TCP
}

// parseSS reads `ss -n -p -l...` output. Columns: Netid State Recv-Q
// Send-Q LocalAddress:Port PeerAddress:Port Process. Lines without an
// embedded `pid=N,` (unprivileged runs) are skipped.
func parseSS(out string) []partial {
	var partials []partial
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if i == 0 {
			continue // header
		}
		parts := strings.Fields(line)
		if len(parts) < 7 {
			continue
		}

		proto, ok := normalizeProto(parts[0])
		if !ok {
			continue
		}
		address, port, ok := splitHostPort(parts[4])
		if !ok {
			continue
		}
		pid, ok := ssPid(parts[6])
		if !ok {
			continue
		}

		partials = append(partials, partial{
			pid:             pid,
			port:            port,
			proto:           proto,
			address:         address,
			fallbackCommand: model.Unknown,
		})
	}
	return partials
}

// ssPid digs the pid out of a `users:(("name",pid=123,fd=4))` column.
func ssPid(procInfo string) (uint32, bool) {
	idx := strings.Index(procInfo, "pid=")
	if idx < 0 {
		return 0, false
	}
	rest := procInfo[idx+4:]
	end := strings.Index(rest, ",")
	if end < 0 {
		return 0, false
	}
	pid, err := parsePid(rest[:end])
	if err != nil {
		return 0, false
	}
	return pid, true
}

// parseNetstat reads `netstat -n -p -l...` output. Columns: Proto
// Recv-Q Send-Q LocalAddress ForeignAddress State PID/Program. Only
// lines in LISTEN state with a readable PID column survive, which in
// practice limits netstat to tcp.
func parseNetstat(out string) []partial {
	var partials []partial
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Fields(line)
		if len(parts) < 7 {
			continue
		}

		proto, ok := normalizeProto(parts[0])
		if !ok {
			continue
		}
		if !strings.Contains(parts[5], "LISTEN") {
			continue
		}
		address, port, ok := splitHostPort(parts[3])
		if !ok {
			continue
		}
		slash := strings.Index(parts[6], "/")
		if slash < 0 {
			continue
		}
		pid, err := parsePid(parts[6][:slash])
		if err != nil {
			continue
		}

		partials = append(partials, partial{
			pid:             pid,
			port:            port,
			proto:           proto,
			address:         address,
			fallbackCommand: parts[6],
		})
	}
	return partials
}

// normalizeProto folds tool protocol columns (tcp, tcp6, udp46, ...)
// onto the two record protocols.
func normalizeProto(s string) (model.Protocol, bool) {
	s = strings.ToLower(s)
	switch {
	case strings.HasPrefix(s, "tcp"):
		return model.TCP, true
	case strings.HasPrefix(s, "udp"):
		return model.UDP, true
	}
	return "", false
}

// splitHostPort splits on the last colon so IPv6 literals survive.
func splitHostPort(s string) (string, uint16, bool) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", 0, false
	}
	port, err := strconv.ParseUint(s[idx+1:], 10, 16)
	if err != nil {
		return "", 0, false
	}
	address := s[:idx]
	if address == "" {
		address = model.WildcardAddr
	}
	return address, uint16(port), true
}

func parsePid(s string) (uint32, error) {
	pid, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	return uint32(pid), err
}

// extractName reduces a command line to a bare process name.
func extractName(commandLine string) string {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return model.Unknown
	}
	name := fields[0]
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// extractExecutable guesses the executable as the command line's first
// token.
func extractExecutable(commandLine string) string {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return model.Unknown
	}
	return fields[0]
}
