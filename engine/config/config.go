// Package config parses the environment-style declarative configuration
// file, decomposes secondary/OAM code strings, and computes add/remove/
// modify diffs against a previously-loaded spec set for hot reload.
package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/czvisa/monitor/engine/store"
)

// MonitorConfig is the fully-parsed declarative configuration.
type MonitorConfig struct {
	Headless            bool
	SiteDir             string
	LogDir              string
	Serve               bool
	SitePort            int
	DefaultFreqMinutes  int
	Workers             int
	SMTPHost            string
	SMTPPort            int
	SMTPUser            string
	SMTPPass            string
	SMTPFrom            string
	EmailMaxPerMinute   int
	EmailFirstCheckDelaySeconds int
	MaxQueriesPerSecond float64
	QueryEndpoint       string
	JanitorIntervalSeconds int

	Specs map[string]store.CodeSpec // keyed by code
}

var trueValues = map[string]bool{"1": true, "true": true, "yes": true, "y": true, "on": true, "t": true}
var falseValues = map[string]bool{"0": true, "false": true, "no": true, "n": true, "off": true, "f": true}

func parseBool(s string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return def
	}
	if trueValues[v] {
		return true
	}
	if falseValues[v] {
		return false
	}
	return def
}

func parseIntDefault(s string, def int) int {
	v := strings.TrimSpace(s)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseFloatDefault(s string, def float64) float64 {
	v := strings.TrimSpace(s)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// secondaryCodeRE matches the canonical secondary/OAM string
// SERIAL[-SUFFIX]/TYPE/YEAR, e.g. "12345-AB/XYZ/2025" or "12345/XYZ/2025".
// An "OAM-" prefix is not part of the pattern; ParseSecondaryCode strips it
// before matching.
var secondaryCodeRE = regexp.MustCompile(`^(\d+)(?:-([A-Z]+))?/([A-Z]+)/(\d{4})$`)

// ParseSecondaryCode decomposes a canonical secondary-code string. An
// optional "OAM-" prefix is stripped before matching, case-insensitively.
// Both the with-suffix and without-suffix spellings are accepted.
func ParseSecondaryCode(raw string) (store.SecondaryParts, error) {
	s := strings.TrimSpace(raw)
	upper := strings.ToUpper(s)
	if strings.HasPrefix(upper, "OAM-") {
		s = s[len("OAM-"):]
	}
	s = strings.ToUpper(s)

	m := secondaryCodeRE.FindStringSubmatch(s)
	if m == nil {
		return store.SecondaryParts{}, fmt.Errorf("invalid secondary code format: %q", raw)
	}
	return store.SecondaryParts{
		Serial: m[1],
		Suffix: m[2],
		Type:   m[3],
		Year:   m[4],
	}, nil
}

// FormatSecondaryCode emits the canonical string form, omitting the suffix
// segment entirely (not as an empty segment) when absent.
func FormatSecondaryCode(p store.SecondaryParts) string {
	if p.Suffix != "" {
		return fmt.Sprintf("%s-%s/%s/%s", p.Serial, p.Suffix, p.Type, p.Year)
	}
	return fmt.Sprintf("%s/%s/%s", p.Serial, p.Type, p.Year)
}

// Load reads and parses the declarative config file at path. For keys the
// file itself sets, a value in the process environment replaces the file's
// value; keys absent from the file are not read from the environment.
func Load(path string) (*MonitorConfig, error) {
	raw, err := readKeyValues(path)
	if err != nil {
		return nil, err
	}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			if _, declared := raw[parts[0]]; !declared {
				continue // env only overlays keys the file declares
			}
			raw[parts[0]] = parts[1]
		}
	}

	cfg := &MonitorConfig{
		Headless:               parseBool(raw["HEADLESS"], true),
		SiteDir:                defaultString(raw["SITE_DIR"], "site"),
		LogDir:                 defaultString(firstNonEmpty(raw["MONITOR_LOG_DIR"], raw["LOG_DIR"]), "logs/monitor"),
		Serve:                  parseBool(raw["SERVE"], false),
		SitePort:               parseIntDefault(raw["SITE_PORT"], 8000),
		DefaultFreqMinutes:     parseIntDefault(raw["DEFAULT_FREQ_MINUTES"], 60),
		Workers:                parseIntDefault(raw["WORKERS"], 1),
		SMTPHost:               raw["SMTP_HOST"],
		SMTPPort:               parseIntDefault(raw["SMTP_PORT"], 465),
		SMTPUser:               raw["SMTP_USER"],
		SMTPPass:               raw["SMTP_PASS"],
		SMTPFrom:               raw["SMTP_FROM"],
		EmailMaxPerMinute:      parseIntDefault(raw["EMAIL_MAX_PER_MINUTE"], 10),
		EmailFirstCheckDelaySeconds: parseIntDefault(raw["EMAIL_FIRST_CHECK_DELAY"], 30),
		MaxQueriesPerSecond:    parseFloatDefault(raw["MAX_QUERIES_PER_SECOND"], 0),
		QueryEndpoint:          raw["QUERY_ENDPOINT"],
		JanitorIntervalSeconds: parseIntDefault(raw["JANITOR_INTERVAL_SECONDS"], 60),
	}

	specs, err := parseSpecs(raw, cfg.DefaultFreqMinutes)
	if err != nil {
		return nil, err
	}
	cfg.Specs = specs
	return cfg, nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

// readKeyValues implements the line-oriented key=value parser: comments and
// blank lines are skipped, and CODES_JSON may span multiple physical lines
// when its value opens with '[' or '{', accumulating until bracket balance
// reaches zero.
func readKeyValues(path string) (map[string]string, error) {
	out := make(map[string]string)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil // an absent config file is not fatal; defaults apply
		}
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		pendingKey   string
		pendingValue strings.Builder
		depth        int
		accumulating bool
	)

	for scanner.Scan() {
		line := scanner.Text()

		if accumulating {
			pendingValue.WriteString("\n")
			pendingValue.WriteString(line)
			depth += bracketDelta(line)
			if depth <= 0 {
				out[pendingKey] = pendingValue.String()
				accumulating = false
				pendingKey = ""
				pendingValue.Reset()
			}
			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		eq := strings.Index(trimmed, "=")
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:eq])
		value := strings.TrimSpace(trimmed[eq+1:])

		if opensBracket(value) {
			d := bracketDelta(value)
			if d > 0 {
				pendingKey = key
				pendingValue.WriteString(value)
				depth = d
				accumulating = true
				continue
			}
		}
		out[key] = value
	}
	if accumulating {
		// Unbalanced brackets at EOF: accept what we have rather than drop the key.
		out[pendingKey] = pendingValue.String()
	}
	return out, scanner.Err()
}

func opensBracket(v string) bool {
	v = strings.TrimSpace(v)
	return strings.HasPrefix(v, "[") || strings.HasPrefix(v, "{")
}

func bracketDelta(s string) int {
	delta := 0
	for _, r := range s {
		switch r {
		case '[', '{':
			delta++
		case ']', '}':
			delta--
		}
	}
	return delta
}

// sortedCodes returns the codes of a map[string]store.CodeSpec in sorted
// order, giving a stable iteration order.
func sortedCodes(specs map[string]store.CodeSpec) []string {
	codes := make([]string, 0, len(specs))
	for c := range specs {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}
