package parser

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maxDescriptionRunes = 500

var (
	cveRe  = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)
	cvssRe = regexp.MustCompile(`(?i)CVSS[:\s]+(\d+\.?\d*)`)

	// stripped from script ids before they become titles, first match only
	scriptPrefixes = []string{"http-vuln-", "smb-vuln-", "ssl-", "vuln-"}
)

type severityRule struct {
	keywords []string
	severity Severity
}

// Evaluated in order; the first rule with a matching keyword wins.
var severityRules = []severityRule{
	{[]string{"critical", "remote code execution"}, SeverityCritical},
	{[]string{"high", "authentication bypass"}, SeverityHigh},
	{[]string{"medium", "information disclosure"}, SeverityMedium},
}

// ClassifySeverity maps script output text to a severity.
func ClassifySeverity(output string) Severity {
	lower := strings.ToLower(output)
	for _, rule := range severityRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.severity
			}
		}
	}
	return SeverityLow
}

// ExtractCVSS returns an explicit CVSS score from output clamped to 0..10,
// or the default for severity.
func ExtractCVSS(output string, severity Severity) float64 {
	m := cvssRe.FindStringSubmatch(output)
	if m == nil {
		return severity.DefaultCVSS()
	}
	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return severity.DefaultCVSS()
	}
	switch {
	case score < 0:
		return 0
	case score > 10:
		return 10
	}
	return score
}

// ScriptTitle derives a human title from a script id like "http-vuln-cve2017-5638".
func ScriptTitle(scriptID string) string {
	name := scriptID
	for _, prefix := range scriptPrefixes {
		if strings.HasPrefix(name, prefix) {
			name = strings.TrimPrefix(name, prefix)
			break
		}
	}
	name = strings.TrimSpace(strings.ReplaceAll(name, "-", " "))
	if name == "" {
		return scriptID
	}
	// Casers are stateful, so one per call.
	return cases.Title(language.English).String(name)
}

// scriptFinding converts one script block into a finding. Scripts whose id
// does not mention "vuln" and whose output does not say "vulnerable" are
// informational and produce nothing.
func scriptFinding(scriptID, output string, port int) (Finding, bool) {
	if !strings.Contains(strings.ToLower(scriptID), "vuln") &&
		!strings.Contains(strings.ToLower(output), "vulnerable") {
		return Finding{}, false
	}

	severity := ClassifySeverity(output)
	cve := cveRe.FindString(output)

	f := Finding{
		ID:          scriptID,
		Title:       ScriptTitle(scriptID),
		Severity:    severity,
		CVSS:        ExtractCVSS(output, severity),
		Description: truncateRunes(strings.TrimSpace(output), maxDescriptionRunes),
		Source:      SourceScript,
		Port:        port,
	}
	if cve != "" {
		f.ID = cve
		f.Title = cve
	}
	return f, true
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
