package procnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeAddr(t *testing.T) {
	cases := []struct {
		raw  string
		ipv6 bool
		want string
	}{
		{"00000000", false, "*"},
		{"0100007F", false, "127.0.0.1"},
		{"0101A8C0", false, "192.168.1.1"},
		{"0100007", false, "*"},  // truncated
		{"zz000000", false, "*"}, // not hex
		{"00000000000000000000000000000000", true, "*"},
		{"00000000000000000000000000000001", true, "::1"},
		{"0000000000000000", true, "*"}, // wrong length for v6
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, decodeAddr(tc.raw, tc.ipv6), "decodeAddr(%q, ipv6=%v)", tc.raw, tc.ipv6)
	}
}

func TestParseLocal(t *testing.T) {
	addr, port, ok := parseLocal("0100007F:1F90", false)
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1", addr)
	assert.Equal(t, uint16(8080), port)

	_, _, ok = parseLocal("nonsense", false)
	assert.False(t, ok)

	_, _, ok = parseLocal("0100007F:ZZZZ", false)
	assert.False(t, ok)
}

func TestSocketInode(t *testing.T) {
	inode, ok := socketInode("socket:[54321]")
	assert.True(t, ok)
	assert.Equal(t, uint64(54321), inode)

	for _, link := range []string{"pipe:[123]", "socket:[abc]", "/dev/null", "socket:["} {
		_, ok := socketInode(link)
		assert.False(t, ok, "link %q", link)
	}
}
