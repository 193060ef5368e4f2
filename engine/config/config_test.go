package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/czvisa/monitor/engine/store"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor.env")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadParsesNumberedCodeFamily(t *testing.T) {
	path := writeTempConfig(t, `
# comment line
DEFAULT_FREQ_MINUTES=45
CODE_1=ABC123456789
CHANNEL_1=email
TARGET_1=a@example.com
CODE_2=12345/XYZ/2025
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DefaultFreqMinutes != 45 {
		t.Fatalf("DefaultFreqMinutes = %d, want 45", cfg.DefaultFreqMinutes)
	}
	if len(cfg.Specs) != 2 {
		t.Fatalf("len(Specs) = %d, want 2", len(cfg.Specs))
	}
	spec, ok := cfg.Specs["ABC123456789"]
	if !ok {
		t.Fatalf("missing spec for ABC123456789")
	}
	if spec.QueryType != store.QueryPrimary {
		t.Fatalf("QueryType = %v, want primary", spec.QueryType)
	}
	if spec.Target != "a@example.com" {
		t.Fatalf("Target = %q, want a@example.com", spec.Target)
	}

	secondary, ok := cfg.Specs["12345/XYZ/2025"]
	if !ok {
		t.Fatalf("missing secondary spec")
	}
	if secondary.QueryType != store.QuerySecondary {
		t.Fatalf("QueryType = %v, want secondary", secondary.QueryType)
	}
}

func TestLoadDuplicateCodeIsFatal(t *testing.T) {
	path := writeTempConfig(t, `
CODE_1=ABC123
CODE_2=ABC123
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for duplicate code")
	}
}

func TestParseSecondaryCodeAcceptsBothSpellings(t *testing.T) {
	withSuffix, err := ParseSecondaryCode("OAM-12345-AB/XYZ/2025")
	if err != nil {
		t.Fatalf("ParseSecondaryCode with suffix: %v", err)
	}
	if withSuffix.Suffix != "AB" {
		t.Fatalf("Suffix = %q, want AB", withSuffix.Suffix)
	}

	withoutSuffix, err := ParseSecondaryCode("12345/XYZ/2025")
	if err != nil {
		t.Fatalf("ParseSecondaryCode without suffix: %v", err)
	}
	if withoutSuffix.Suffix != "" {
		t.Fatalf("Suffix = %q, want empty", withoutSuffix.Suffix)
	}

	if got := FormatSecondaryCode(withoutSuffix); got != "12345/XYZ/2025" {
		t.Fatalf("FormatSecondaryCode round-trip = %q", got)
	}
	if got := FormatSecondaryCode(withSuffix); got != "12345-AB/XYZ/2025" {
		t.Fatalf("FormatSecondaryCode with suffix = %q", got)
	}
}

func TestComputeDiffDetectsAddRemoveModify(t *testing.T) {
	oldFreq := 30
	newFreq := 60
	oldSpecs := map[string]store.CodeSpec{
		"A": {Code: "A", Channel: store.ChannelEmail, FreqMinutes: &oldFreq},
		"B": {Code: "B", Channel: store.ChannelEmail},
	}
	newSpecs := map[string]store.CodeSpec{
		"A": {Code: "A", Channel: store.ChannelEmail, FreqMinutes: &newFreq},
		"C": {Code: "C", Channel: store.ChannelEmail},
	}

	diff := ComputeDiff(oldSpecs, newSpecs, 60, 60)
	if len(diff.Added) != 1 || diff.Added[0] != "C" {
		t.Fatalf("Added = %v, want [C]", diff.Added)
	}
	if len(diff.Removed) != 1 || diff.Removed[0] != "B" {
		t.Fatalf("Removed = %v, want [B]", diff.Removed)
	}
	if len(diff.Modified) != 1 || diff.Modified[0] != "A" {
		t.Fatalf("Modified = %v, want [A]", diff.Modified)
	}
	if diff.DefaultFreqChanged {
		t.Fatalf("DefaultFreqChanged = true, want false")
	}
}

func TestEffectiveFreqMinutesUsesDefaultWhenUnset(t *testing.T) {
	minutes, usesDefault := EffectiveFreqMinutes(store.CodeSpec{}, 90)
	if minutes != 90 || !usesDefault {
		t.Fatalf("got (%d, %v), want (90, true)", minutes, usesDefault)
	}

	explicit := 15
	minutes, usesDefault = EffectiveFreqMinutes(store.CodeSpec{FreqMinutes: &explicit}, 90)
	if minutes != 15 || usesDefault {
		t.Fatalf("got (%d, %v), want (15, false)", minutes, usesDefault)
	}
}
