package rules

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	candidate := NewRuleSet(
		DocTypeRule{"Permits", Rule{
			Keywords:       []string{" Permit ", "permit", "CONSTRUCTION", ""},
			Department:     "  Building ",
			RequiredFields: []string{"applicant_name", "applicant_name", " date "},
		}},
	)

	got, err := Normalize(candidate)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	rule, ok := got.Get("permits")
	if !ok {
		t.Fatalf("expected lowercased doc type key, have %v", got.DocTypes())
	}
	if want := []string{"permit", "construction"}; !reflect.DeepEqual(rule.Keywords, want) {
		t.Errorf("keywords = %v, want %v", rule.Keywords, want)
	}
	if rule.Department != "Building" {
		t.Errorf("department = %q", rule.Department)
	}
	if want := []string{"applicant_name", "date"}; !reflect.DeepEqual(rule.RequiredFields, want) {
		t.Errorf("required fields = %v, want %v", rule.RequiredFields, want)
	}
	if !got.Contains(FallbackDocType) {
		t.Error("normalized ruleset must contain the fallback rule")
	}
}

func TestNormalizeRejectsEmpty(t *testing.T) {
	if _, err := Normalize(nil); err == nil {
		t.Error("expected error for nil ruleset")
	}
	if _, err := Normalize(&RuleSet{}); err == nil {
		t.Error("expected error for empty ruleset")
	}
}

func TestDefaultsContainFallback(t *testing.T) {
	rs := Defaults()
	if !rs.Contains(FallbackDocType) {
		t.Fatal("defaults missing fallback rule")
	}
	fallback := rs.Resolve("no_such_type")
	if fallback.Department != "General Intake" {
		t.Errorf("fallback department = %q", fallback.Department)
	}
	// Declaration order is a contract: the keyword matcher breaks ties on it.
	types := rs.DocTypes()
	if types[0] != "building_permit" {
		t.Errorf("first declared type = %q, want building_permit", types[0])
	}
	if types[len(types)-1] != FallbackDocType {
		t.Errorf("last declared type = %q, want %s", types[len(types)-1], FallbackDocType)
	}
}

func TestManagerSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	m := NewManager(path, logger)
	custom := NewRuleSet(
		DocTypeRule{"permits", Rule{
			Keywords:       []string{"permit", "construction"},
			Department:     "Building",
			RequiredFields: []string{"applicant_name"},
		}},
		DocTypeRule{"licenses", Rule{
			Keywords:   []string{"license"},
			Department: "Finance",
		}},
	)
	if _, err := m.Save(custom); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A fresh manager reading the same file must see the same ordered rules.
	reloaded := NewManager(path, logger).Snapshot()
	want := []string{"permits", "licenses", FallbackDocType}
	if got := reloaded.DocTypes(); !reflect.DeepEqual(got, want) {
		t.Errorf("reloaded doc types = %v, want %v", got, want)
	}
}

func TestManagerResetRestoresDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	m := NewManager(path, slog.Default())

	custom := NewRuleSet(DocTypeRule{"permits", Rule{Keywords: []string{"permit"}, Department: "Building"}})
	if _, err := m.Save(custom); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := m.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if m.Snapshot().Contains("permits") {
		t.Error("reset snapshot still contains custom rule")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("rules file should be removed after reset, stat err = %v", err)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	m := NewManager(path, slog.Default())

	before := m.Snapshot()
	custom := NewRuleSet(DocTypeRule{"permits", Rule{Keywords: []string{"permit"}, Department: "Building"}})
	if _, err := m.Save(custom); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// The snapshot taken before the save must be unaffected by it.
	if before.Contains("permits") {
		t.Error("pre-save snapshot observed the saved rules")
	}
	if !m.Snapshot().Contains("permits") {
		t.Error("post-save snapshot missing the saved rules")
	}
}
