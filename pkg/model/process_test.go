package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplayPath(t *testing.T) {
	cases := []struct {
		name string
		rec  ProcessRecord
		want string
	}{
		{
			name: "node app prefers working dir",
			rec: ProcessRecord{
				Command:        "node server.js",
				ExecutablePath: "/usr/local/bin/node",
				WorkingDir:     "/home/dev/shop",
			},
			want: "/home/dev/shop",
		},
		{
			name: "npm run via command marker",
			rec: ProcessRecord{
				Command:        "npm run dev",
				ExecutablePath: "/usr/bin/some-wrapper",
				WorkingDir:     "/home/dev/shop",
			},
			want: "/home/dev/shop",
		},
		{
			name: "plain daemon keeps executable",
			rec: ProcessRecord{
				Command:        "/usr/sbin/sshd -D",
				ExecutablePath: "/usr/sbin/sshd",
				WorkingDir:     "/etc/ssh",
			},
			want: "/usr/sbin/sshd",
		},
		{
			name: "root working dir is useless",
			rec: ProcessRecord{
				Command:        "node server.js",
				ExecutablePath: "/usr/local/bin/node",
				WorkingDir:     "/",
			},
			want: "/usr/local/bin/node",
		},
		{
			name: "unknown working dir is useless",
			rec: ProcessRecord{
				Command:        "python3 -m http.server",
				ExecutablePath: "/usr/bin/python3",
				WorkingDir:     Unknown,
			},
			want: "/usr/bin/python3",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rec.DisplayPath())
		})
	}
}

func TestParseProtocol(t *testing.T) {
	for in, want := range map[string]Protocol{
		"tcp": TCP, "TCP": TCP,
		"udp": UDP, "UDP": UDP,
		"all": All, "ALL": All, "": All,
	} {
		got, ok := ParseProtocol(in)
		require.True(t, ok, "ParseProtocol(%q)", in)
		assert.Equal(t, want, got)
	}

	_, ok := ParseProtocol("http")
	assert.False(t, ok)
}

func TestProtocolExpansion(t *testing.T) {
	assert.Equal(t, []Protocol{TCP, UDP}, All.Protocols())
	assert.Equal(t, []Protocol{UDP}, UDP.Protocols())

	assert.True(t, All.Matches(TCP))
	assert.True(t, TCP.Matches(TCP))
	assert.False(t, TCP.Matches(UDP))
}

func TestRecordJSONOmitsZeroInode(t *testing.T) {
	rec := ProcessRecord{
		PID:            4242,
		Name:           "myserver",
		Command:        "/usr/bin/myserver --port 8080",
		ExecutablePath: "/usr/bin/myserver",
		WorkingDir:     "/srv",
		Port:           8080,
		Protocol:       TCP,
		Address:        "127.0.0.1",
	}

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "inode")
	assert.Contains(t, string(out), `"executable_path":"/usr/bin/myserver"`)

	rec.Inode = 54321
	out, err = json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"inode":54321`)
}

func TestSameIgnoresAddressChurn(t *testing.T) {
	a := ProcessRecord{PID: 1, Name: "x", Command: "x -v", ExecutablePath: "/bin/x", Address: "127.0.0.1"}
	b := a
	b.Address = WildcardAddr
	b.Inode = 99
	assert.True(t, a.Same(b))

	b.Command = "x -vv"
	assert.False(t, a.Same(b))
}
