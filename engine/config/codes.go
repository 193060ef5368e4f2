package config

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/czvisa/monitor/engine/store"
)

var numberedKeyRE = regexp.MustCompile(`^CODE_(\d+)$`)

// jsonCodeEntry is one element of the CODES_JSON array: a structured
// alternative to the CODE_N numbered-suffix family, sharing the same field
// set. Either "type" or "query_type" selects "oam" for a secondary code.
type jsonCodeEntry struct {
	Code        string `json:"code"`
	Type        string `json:"type"`
	QueryType   string `json:"query_type"`
	Channel     string `json:"channel"`
	Target      string `json:"target"`
	FreqMinutes *int   `json:"freq_minutes"`
	Note        string `json:"note"`
}

// parseSpecs assembles CodeSpec values from the structured CODES_JSON array
// and the numbered-suffix key families CODE_N / CHANNEL_N / TARGET_N /
// FREQ_MINUTES_N / NOTE_N / QUERY_TYPE_N, in that order. A code declared
// more than once across either source is a fatal configuration error.
func parseSpecs(raw map[string]string, defaultFreq int) (map[string]store.CodeSpec, error) {
	specs := make(map[string]store.CodeSpec)
	seen := make(map[string]string) // code -> which source declared it first

	if jsonRaw := strings.TrimSpace(raw["CODES_JSON"]); jsonRaw != "" {
		var entries []jsonCodeEntry
		if err := json.Unmarshal([]byte(jsonRaw), &entries); err != nil {
			return nil, fmt.Errorf("parse CODES_JSON: %w", err)
		}
		for i, entry := range entries {
			source := fmt.Sprintf("CODES_JSON[%d]", i)
			code := strings.TrimSpace(entry.Code)
			if code == "" {
				continue
			}

			spec := store.CodeSpec{
				Code:        code,
				Channel:     store.Channel(defaultString(entry.Channel, string(store.ChannelEmail))),
				Target:      entry.Target,
				Note:        entry.Note,
				FreqMinutes: entry.FreqMinutes,
			}
			queryType := defaultString(entry.Type, entry.QueryType)
			applyQueryType(&spec, code, queryType)

			if prevSource, dup := seen[spec.Code]; dup {
				return nil, fmt.Errorf("duplicate code %q declared at both %s and %s", spec.Code, prevSource, source)
			}
			seen[spec.Code] = source
			specs[spec.Code] = spec
		}
	}

	var suffixes []string
	for key := range raw {
		if m := numberedKeyRE.FindStringSubmatch(key); m != nil {
			suffixes = append(suffixes, m[1])
		}
	}
	sort.Slice(suffixes, func(i, j int) bool {
		ni, _ := strconv.Atoi(suffixes[i])
		nj, _ := strconv.Atoi(suffixes[j])
		return ni < nj
	})

	for _, suffix := range suffixes {
		source := "CODE_" + suffix
		code := strings.TrimSpace(raw["CODE_"+suffix])
		if code == "" {
			continue
		}

		spec := store.CodeSpec{
			Code:    code,
			Channel: store.Channel(defaultString(raw["CHANNEL_"+suffix], string(store.ChannelEmail))),
			Target:  raw["TARGET_"+suffix],
			Note:    raw["NOTE_"+suffix],
		}
		applyQueryType(&spec, code, raw["QUERY_TYPE_"+suffix])

		if freqRaw := raw["FREQ_MINUTES_"+suffix]; freqRaw != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(freqRaw)); err == nil {
				spec.FreqMinutes = &n
			}
		}

		if prevSource, dup := seen[spec.Code]; dup {
			return nil, fmt.Errorf("duplicate code %q declared at both %s and %s", spec.Code, prevSource, source)
		}
		seen[spec.Code] = source
		specs[spec.Code] = spec
	}

	return specs, nil
}

// applyQueryType resolves whether spec is a secondary (OAM) code, either
// because queryType names it explicitly or because code itself parses as
// one, and normalizes spec.Code to the canonical secondary form when so.
func applyQueryType(spec *store.CodeSpec, code, queryType string) {
	if strings.EqualFold(queryType, string(store.QuerySecondary)) || strings.EqualFold(queryType, "oam") {
		spec.QueryType = store.QuerySecondary
		if parts, err := ParseSecondaryCode(code); err == nil {
			spec.Secondary = &parts
			spec.Code = FormatSecondaryCode(parts)
		}
		return
	}
	if parts, err := ParseSecondaryCode(code); err == nil {
		spec.QueryType = store.QuerySecondary
		spec.Secondary = &parts
		spec.Code = FormatSecondaryCode(parts)
		return
	}
	spec.QueryType = store.QueryPrimary
}

// EffectiveFreqMinutes resolves the polling interval for a spec, reporting
// whether the caller's default was used (uses_default_freq).
func EffectiveFreqMinutes(spec store.CodeSpec, defaultFreq int) (minutes int, usesDefault bool) {
	if spec.FreqMinutes != nil && *spec.FreqMinutes > 0 {
		return *spec.FreqMinutes, false
	}
	return defaultFreq, true
}
