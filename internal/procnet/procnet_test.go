package procnet

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polidog/kilar/pkg/model"
)

const tcpTable = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0100007F:1F90 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 54321 1 0000000000000000 100 0 0 10 0
   1: 00000000:270F 00000000:0000 0A 00000000:00000000 00:00000000 00000000     0        0 999 1 0000000000000000 100 0 0 10 0
   2: 0500000A:01BB 0600000A:8F12 01 00000000:00000000 00:00000000 00000000     0        0 333 1 0000000000000000 100 0 0 10 0
   3: garbage
`

const udpTable = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode ref pointer drops
   0: 00000000:14E9 00000000:0000 07 00000000:00000000 00:00000000 00000000     0        0 888 2 0000000000000000 0
`

// fakeProc fabricates a procfs with one tcp listener on 8080 owned by
// pid 4242, one orphaned tcp socket, one established connection, one
// malformed line, and one udp socket owned by pid 555.
func fakeProc(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "net"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "net", "tcp"), []byte(tcpTable), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "net", "udp"), []byte(udpTable), 0o644))

	pidDir := filepath.Join(root, "4242")
	require.NoError(t, os.MkdirAll(filepath.Join(pidDir, "fd"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "comm"), []byte("myserver\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pidDir, "cmdline"),
		[]byte("/usr/bin/myserver\x00--port\x008080\x00"), 0o644))
	require.NoError(t, os.Symlink("/srv/app", filepath.Join(pidDir, "cwd")))
	require.NoError(t, os.Symlink("/usr/bin/myserver", filepath.Join(pidDir, "exe")))
	require.NoError(t, os.Symlink("socket:[54321]", filepath.Join(pidDir, "fd", "3")))
	require.NoError(t, os.Symlink("/dev/null", filepath.Join(pidDir, "fd", "0")))

	bareDir := filepath.Join(root, "555")
	require.NoError(t, os.MkdirAll(filepath.Join(bareDir, "fd"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bareDir, "comm"), []byte("mdnsd\n"), 0o644))
	require.NoError(t, os.Symlink("socket:[888]", filepath.Join(bareDir, "fd", "7")))

	// Non-numeric entries must be ignored by the scan.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sys"), 0o755))

	return root
}

func newTestResolver(t *testing.T, root string) *Resolver {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	r := New(root, log)
	t.Cleanup(r.Close)
	return r
}

func TestListProcessesTCP(t *testing.T) {
	r := newTestResolver(t, fakeProc(t))

	records, err := r.ListProcesses(context.Background(), model.TCP)
	require.NoError(t, err)
	require.Len(t, records, 1, "orphaned, established and malformed lines must be dropped")

	rec := records[0]
	assert.Equal(t, uint32(4242), rec.PID)
	assert.Equal(t, uint16(8080), rec.Port)
	assert.Equal(t, model.TCP, rec.Protocol)
	assert.Equal(t, "127.0.0.1", rec.Address)
	assert.Equal(t, uint64(54321), rec.Inode)
	assert.Equal(t, "myserver", rec.Name)
	assert.Equal(t, "/usr/bin/myserver --port 8080", rec.Command)
	assert.Equal(t, "/usr/bin/myserver", rec.ExecutablePath)
	assert.Equal(t, "/srv/app", rec.WorkingDir)
}

func TestListProcessesAllAndDegradedDetails(t *testing.T) {
	r := newTestResolver(t, fakeProc(t))

	records, err := r.ListProcesses(context.Background(), model.All)
	require.NoError(t, err)
	require.Len(t, records, 2)

	var udpRec model.ProcessRecord
	for _, rec := range records {
		if rec.Protocol == model.UDP {
			udpRec = rec
		}
	}
	assert.Equal(t, uint32(555), udpRec.PID)
	assert.Equal(t, uint16(5353), udpRec.Port)
	assert.Equal(t, "*", udpRec.Address)
	assert.Equal(t, "mdnsd", udpRec.Name)
	assert.Equal(t, model.Unknown, udpRec.Command)
	assert.Equal(t, model.Unknown, udpRec.ExecutablePath)
	assert.Equal(t, model.Unknown, udpRec.WorkingDir)
}

func TestCheckPortMatchesList(t *testing.T) {
	r := newTestResolver(t, fakeProc(t))
	ctx := context.Background()

	records, err := r.ListProcesses(ctx, model.TCP)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec, ok, err := r.CheckPort(ctx, 8080, model.TCP)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, records[0], rec)

	_, ok, err = r.CheckPort(ctx, 1, model.TCP)
	require.NoError(t, err)
	assert.False(t, ok, "an unused port is an answer, not an error")

	_, ok, err = r.CheckPort(ctx, 8080, model.UDP)
	require.NoError(t, err)
	assert.False(t, ok, "protocol selector must be honored")
}

func TestMissingTablesTolerated(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "net"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "net", "tcp"), []byte(tcpTable), 0o644))

	r := newTestResolver(t, root)
	records, err := r.ListProcesses(context.Background(), model.All)
	require.NoError(t, err)
	assert.Empty(t, records, "no fd owners fabricated, and absent tables contribute nothing")
}

func TestAvailable(t *testing.T) {
	r := newTestResolver(t, fakeProc(t))
	assert.True(t, r.Available())

	empty := newTestResolver(t, t.TempDir())
	assert.False(t, empty.Available())
}

func TestDetailCacheAndClear(t *testing.T) {
	root := fakeProc(t)
	r := newTestResolver(t, root)
	ctx := context.Background()

	records, err := r.ListProcesses(ctx, model.TCP)
	require.NoError(t, err)
	require.Equal(t, "myserver", records[0].Name)

	require.NoError(t, os.WriteFile(filepath.Join(root, "4242", "comm"), []byte("renamed\n"), 0o644))

	records, err = r.ListProcesses(ctx, model.TCP)
	require.NoError(t, err)
	assert.Equal(t, "myserver", records[0].Name, "details must come from the cache inside the TTL")

	r.ClearCache()
	records, err = r.ListProcesses(ctx, model.TCP)
	require.NoError(t, err)
	assert.Equal(t, "renamed", records[0].Name)
}

func TestEnrichBypassesCache(t *testing.T) {
	root := fakeProc(t)
	r := newTestResolver(t, root)
	ctx := context.Background()

	records, err := r.ListProcesses(ctx, model.TCP)
	require.NoError(t, err)
	rec := records[0]

	rec.WorkingDir = model.Unknown
	require.NoError(t, os.Remove(filepath.Join(root, "4242", "cwd")))
	require.NoError(t, os.Symlink("/srv/moved", filepath.Join(root, "4242", "cwd")))

	enriched := r.Enrich(rec)
	assert.Equal(t, "/srv/moved", enriched.WorkingDir)
	assert.Equal(t, "myserver", enriched.Name, "known fields must not be overwritten")
}

func TestCanceledContext(t *testing.T) {
	r := newTestResolver(t, fakeProc(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.ListProcesses(ctx, model.TCP)
	assert.ErrorIs(t, err, context.Canceled)
}
