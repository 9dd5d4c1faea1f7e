package parser

import (
	"bufio"
	"bytes"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	grepHostUpRe = regexp.MustCompile(`^Host:\s+(\S+).*Status:\s+Up`)
	grepPortsRe  = regexp.MustCompile(`Ports:\s+(.*)`)
	normalPortRe = regexp.MustCompile(`^(\d+)/(?:tcp|udp)\s+open\b`)
)

// ParseDiscovery returns the addresses reported up in grepable (-oG) ping
// sweep output, in the order they appear and without duplicates.
func ParseDiscovery(data []byte) []string {
	var hosts []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m := grepHostUpRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		addr := m[1]
		if net.ParseIP(addr) == nil || seen[addr] {
			continue
		}
		seen[addr] = true
		hosts = append(hosts, addr)
	}
	return hosts
}

// ParseOpenPorts returns the sorted open port numbers in quick-check output.
// Both the grepable "Ports:" field and normal "80/tcp open" lines are read.
func ParseOpenPorts(data []byte) []int {
	seen := make(map[int]bool)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if m := grepPortsRe.FindStringSubmatch(line); m != nil {
			for _, port := range parseGrepPorts(m[1]) {
				seen[port] = true
			}
			continue
		}
		if m := normalPortRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && validPort(n) {
				seen[n] = true
			}
		}
	}

	ports := make([]int, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// parseGrepPorts reads entries like "80/open/tcp//http///, 443/closed/tcp//https///".
func parseGrepPorts(field string) []int {
	// The Ports field is followed by a tab-separated "Ignored State:" field.
	if i := strings.IndexByte(field, '\t'); i >= 0 {
		field = field[:i]
	}
	var out []int
	for _, entry := range strings.Split(field, ",") {
		parts := strings.Split(strings.TrimSpace(entry), "/")
		if len(parts) < 2 || parts[1] != "open" {
			continue
		}
		n, err := strconv.Atoi(parts[0])
		if err != nil || !validPort(n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func validPort(n int) bool {
	return n > 0 && n <= 65535
}
