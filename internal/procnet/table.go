package procnet

import (
	"bufio"
	"encoding/hex"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/polidog/kilar/pkg/model"
)

// 0A = LISTEN in the tcp state column.
const stateListen = "0A"

type tableSpec struct {
	name     string
	protocol model.Protocol
	ipv6     bool
	// UDP sockets have no LISTEN state; every bound socket counts.
	filterListen bool
}

var tables = []tableSpec{
	{"net/tcp", model.TCP, false, true},
	{"net/tcp6", model.TCP, true, true},
	{"net/udp", model.UDP, false, false},
	{"net/udp6", model.UDP, true, false},
}

// readTables parses the network tables matching the protocol selector
// into partial records (pid and details not yet resolved). A missing
// table file contributes nothing.
func (r *Resolver) readTables(proto model.Protocol) []model.ProcessRecord {
	var partial []model.ProcessRecord
	for _, spec := range tables {
		if !proto.Matches(spec.protocol) {
			continue
		}
		r.readTable(spec, &partial)
	}
	return partial
}

func (r *Resolver) readTable(spec tableSpec, out *[]model.ProcessRecord) {
	f, err := os.Open(filepath.Join(r.Root, spec.name))
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // skip header

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}
		if spec.filterListen && fields[3] != stateListen {
			continue
		}

		addr, port, ok := parseLocal(fields[1], spec.ipv6)
		if !ok {
			continue
		}
		inode, err := strconv.ParseUint(fields[9], 10, 64)
		if err != nil {
			continue
		}

		*out = append(*out, model.ProcessRecord{
			Port:     port,
			Protocol: spec.protocol,
			Address:  addr,
			Inode:    inode,
		})
	}
}

// parseLocal splits a HEXADDR:HEXPORT local-address field.
func parseLocal(raw string, ipv6 bool) (string, uint16, bool) {
	idx := strings.LastIndex(raw, ":")
	if idx < 0 {
		return "", 0, false
	}
	port, err := strconv.ParseUint(raw[idx+1:], 16, 16)
	if err != nil {
		return "", 0, false
	}
	return decodeAddr(raw[:idx], ipv6), uint16(port), true
}

// decodeAddr turns the kernel's hex address into presentation form.
// All-zero addresses mean a wildcard bind. IPv4 is stored with the
// bytes reversed; IPv6 maps onto the 16 address bytes directly.
func decodeAddr(hexAddr string, ipv6 bool) string {
	if ipv6 {
		if len(hexAddr) != 32 {
			return model.WildcardAddr
		}
		b, err := hex.DecodeString(hexAddr)
		if err != nil {
			return model.WildcardAddr
		}
		allZero := true
		for _, v := range b {
			if v != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			return model.WildcardAddr
		}
		return net.IP(b).String()
	}

	if len(hexAddr) != 8 {
		return model.WildcardAddr
	}
	b, err := hex.DecodeString(hexAddr)
	if err != nil {
		return model.WildcardAddr
	}
	if b[0] == 0 && b[1] == 0 && b[2] == 0 && b[3] == 0 {
		return model.WildcardAddr
	}
	return strconv.Itoa(int(b[3])) + "." +
		strconv.Itoa(int(b[2])) + "." +
		strconv.Itoa(int(b[1])) + "." +
		strconv.Itoa(int(b[0]))
}

// socketInode extracts N from a "socket:[N]" fd symlink target.
func socketInode(link string) (uint64, bool) {
	if !strings.HasPrefix(link, "socket:[") || !strings.HasSuffix(link, "]") {
		return 0, false
	}
	inode, err := strconv.ParseUint(link[8:len(link)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return inode, true
}

func strconvPid(name string) (uint32, error) {
	pid, err := strconv.ParseUint(name, 10, 32)
	return uint32(pid), err
}
