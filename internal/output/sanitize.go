package output

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const hexDigits = "0123456789abcdef"

// Sanitize makes a string safe to print on an interactive terminal.
// Process names and command lines come straight from untrusted
// programs, which are free to embed sequences that retitle the window,
// move the cursor or inject bytes into the display. Control runes and
// invalid UTF-8 bytes are replaced with visible escapes ("\x1b",
// "\x85"); newlines and tabs keep their layout role.
func Sanitize(s string) string {
	idx := 0
	// fast path: most strings contain nothing to rewrite
	for idx < len(s) {
		r, size := utf8.DecodeRuneInString(s[idx:])
		if hostile(r, size) {
			break
		}
		idx += size
	}
	if idx == len(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 8)
	b.WriteString(s[:idx])

	for idx < len(s) {
		r, size := utf8.DecodeRuneInString(s[idx:])
		switch {
		case r == utf8.RuneError && size == 1:
			appendEscapedByte(&b, s[idx])
		case hostile(r, size):
			appendEscapedRune(&b, r)
		default:
			b.WriteString(s[idx : idx+size])
		}
		idx += size
	}
	return b.String()
}

// hostile reports whether the decoded rune must not reach the terminal
// as-is. Invalid bytes count so they cannot smuggle a control sequence
// past a decoder that is more forgiving than ours.
func hostile(r rune, size int) bool {
	if r == utf8.RuneError && size == 1 {
		return true
	}
	if r == '\n' || r == '\t' {
		return false
	}
	return unicode.IsControl(r)
}

func appendEscapedByte(b *strings.Builder, c byte) {
	b.WriteString("\\x")
	b.WriteByte(hexDigits[c>>4])
	b.WriteByte(hexDigits[c&0x0f])
}

// appendEscapedRune writes the shortest escape that round-trips the
// rune: "\xHH" below 0x100, "\uHHHH" in the BMP, "\UHHHHHHHH" above.
func appendEscapedRune(b *strings.Builder, r rune) {
	if r <= 0xFF {
		appendEscapedByte(b, byte(r))
		return
	}
	if r <= 0xFFFF {
		b.WriteString("\\u")
		for shift := 12; shift >= 0; shift -= 4 {
			b.WriteByte(hexDigits[(r>>shift)&0x0f])
		}
		return
	}
	b.WriteString("\\U")
	for shift := 28; shift >= 0; shift -= 4 {
		b.WriteByte(hexDigits[(r>>shift)&0x0f])
	}
}
