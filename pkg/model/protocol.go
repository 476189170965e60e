package model

import "strings"

// Protocol selects a transport protocol in queries and identifies the
// protocol of a record.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
	// All is query-only: list both protocols. Records never carry it.
	All Protocol = "all"
)

// ParseProtocol normalizes a user-supplied protocol selector. The empty
// string means "not given" and maps to All.
func ParseProtocol(s string) (Protocol, bool) {
	switch Protocol(strings.ToLower(s)) {
	case TCP:
		return TCP, true
	case UDP:
		return UDP, true
	case All, "":
		return All, true
	}
	return "", false
}

// Protocols expands a selector into the concrete protocols it covers.
func (p Protocol) Protocols() []Protocol {
	if p == All {
		return []Protocol{TCP, UDP}
	}
	return []Protocol{p}
}

// Matches reports whether a record protocol satisfies the selector.
func (p Protocol) Matches(rec Protocol) bool {
	return p == All || p == rec
}
