package parser

import (
	"html"
	"regexp"
	"strconv"

	"github.com/Ullaakut/nmap/v3"
)

// ParseReport decodes an XML audit report for host. When the document is
// not well formed (for example because output was truncated) it falls back
// to scraping whatever port, OS and script elements are present.
func ParseReport(host string, data []byte) *ProbeResult {
	run := &nmap.Run{}
	if err := nmap.Parse(data, run); err != nil {
		result := scrapeReport(data)
		result.Host = host
		result.Partial = true
		return result
	}
	return fromRun(host, run)
}

func fromRun(host string, run *nmap.Run) *ProbeResult {
	result := &ProbeResult{Host: host}

	h := selectHost(host, run.Hosts)
	if h == nil {
		return result
	}

	for i := range h.Ports {
		p := &h.Ports[i]
		port := Port{
			Number:   int(p.ID),
			Protocol: p.Protocol,
			State:    p.State.State,
			Service:  p.Service.Name,
			Version:  joinVersion(p.Service.Product, p.Service.Version),
		}
		result.addPort(port)

		for _, s := range p.Scripts {
			if f, ok := scriptFinding(s.ID, s.Output, port.Number); ok {
				result.Findings = append(result.Findings, f)
			}
		}
	}

	for _, s := range h.HostScripts {
		if f, ok := scriptFinding(s.ID, s.Output, 0); ok {
			result.Findings = append(result.Findings, f)
		}
	}

	if len(h.OS.Matches) > 0 {
		m := h.OS.Matches[0]
		result.OS = &OSGuess{Name: m.Name, Confidence: clampPercent(m.Accuracy)}
	}

	return result
}

// selectHost prefers the host whose address matches target and otherwise
// takes the first one reported.
func selectHost(target string, hosts []nmap.Host) *nmap.Host {
	if len(hosts) == 0 {
		return nil
	}
	for i := range hosts {
		for _, addr := range hosts[i].Addresses {
			if addr.Addr == target {
				return &hosts[i]
			}
		}
	}
	return &hosts[0]
}

var (
	portBlockRe  = regexp.MustCompile(`(?s)<port\s+protocol="([^"]+)"\s+portid="(\d+)"(.*?)(?:</port>|$)`)
	stateRe      = regexp.MustCompile(`<state\s+state="([^"]+)"`)
	serviceRe    = regexp.MustCompile(`<service\s+([^>]*)`)
	nameAttrRe   = regexp.MustCompile(`\bname="([^"]*)"`)
	productRe    = regexp.MustCompile(`\bproduct="([^"]*)"`)
	versionRe    = regexp.MustCompile(`\bversion="([^"]*)"`)
	scriptRe     = regexp.MustCompile(`<script\s+id="([^"]+)"\s+output="([^"]*)"`)
	hostScriptRe = regexp.MustCompile(`(?s)<hostscript>(.*?)(?:</hostscript>|$)`)
	osMatchRe    = regexp.MustCompile(`<osmatch\s+name="([^"]*)"\s+accuracy="(\d+)"`)
)

// scrapeReport extracts what it can from a damaged XML report.
func scrapeReport(data []byte) *ProbeResult {
	result := &ProbeResult{}
	text := string(data)

	for _, m := range portBlockRe.FindAllStringSubmatch(text, -1) {
		number, err := strconv.Atoi(m[2])
		if err != nil || !validPort(number) {
			continue
		}
		body := m[3]
		port := Port{Number: number, Protocol: m[1]}

		if s := stateRe.FindStringSubmatch(body); s != nil {
			port.State = s[1]
		}
		if svc := serviceRe.FindStringSubmatch(body); svc != nil {
			attrs := svc[1]
			port.Service = html.UnescapeString(submatch(nameAttrRe, attrs))
			port.Version = joinVersion(
				html.UnescapeString(submatch(productRe, attrs)),
				html.UnescapeString(submatch(versionRe, attrs)),
			)
		}
		result.addPort(port)

		for _, s := range scriptRe.FindAllStringSubmatch(body, -1) {
			if f, ok := scriptFinding(s[1], html.UnescapeString(s[2]), number); ok {
				result.Findings = append(result.Findings, f)
			}
		}
	}

	for _, block := range hostScriptRe.FindAllStringSubmatch(text, -1) {
		for _, s := range scriptRe.FindAllStringSubmatch(block[1], -1) {
			if f, ok := scriptFinding(s[1], html.UnescapeString(s[2]), 0); ok {
				result.Findings = append(result.Findings, f)
			}
		}
	}

	if m := osMatchRe.FindStringSubmatch(text); m != nil {
		accuracy, _ := strconv.Atoi(m[2])
		result.OS = &OSGuess{Name: html.UnescapeString(m[1]), Confidence: clampPercent(accuracy)}
	}

	return result
}

func submatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return ""
}

func joinVersion(product, version string) string {
	switch {
	case product == "":
		return version
	case version == "":
		return product
	}
	return product + " " + version
}

func clampPercent(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
