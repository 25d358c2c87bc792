package workflow

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func loadSquare(t *testing.T) *Template {
	t.Helper()
	doc, err := DecodeDocument([]byte(squareJSON), FormatJSON)
	if err != nil {
		t.Fatalf("DecodeDocument() error = %v", err)
	}
	return NewTemplate("square", doc, nil)
}

func TestClassification(t *testing.T) {
	tmpl := loadSquare(t)

	want := map[string]Role{
		"3":    RoleSeedSource,
		"4":    RoleOpaque,
		"5":    RoleOpaque,
		"6":    RoleTextInput,
		"7":    RoleTextInput,
		"9":    RoleOpaque,
		"10":   RoleOpaque, // text encoder without a text input
		"note": RoleOpaque,
	}
	for id, role := range want {
		n, ok := tmpl.Nodes[id]
		if !ok {
			t.Fatalf("node %s missing", id)
		}
		if n.Role != role {
			t.Errorf("node %s: expected role %s, got %s", id, role, n.Role)
		}
	}
}

func TestMaterializeWritesTextAndSeed(t *testing.T) {
	tmpl := loadSquare(t)
	m := NewMaterializer(func() int64 { return 42 })

	text := `a "quoted" cat, 🐈 with unicode`
	job, err := m.Materialize(tmpl, text)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	for _, id := range []string{"6", "7"} {
		got, _ := job.Template.Nodes[id].Input("text")
		if got != text {
			t.Errorf("node %s: expected text %q, got %v", id, text, got)
		}
	}

	seed, _ := job.Template.Nodes["3"].Input("seed")
	if seed != int64(42) {
		t.Errorf("Expected seed 42, got %v (%T)", seed, seed)
	}
	if job.Seeds["3"] != 42 || len(job.Seeds) != 1 {
		t.Errorf("Unexpected seeds map: %v", job.Seeds)
	}
	if job.JobType != "square" {
		t.Errorf("Expected job type square, got %s", job.JobType)
	}
}

func TestMaterializeLeavesOtherNodesUntouched(t *testing.T) {
	tmpl := loadSquare(t)
	before := tmpl.Clone().Document()

	job, err := NewMaterializer(nil).Materialize(tmpl, "a cat")
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	after := job.Template.Document()
	if len(after) != len(before) {
		t.Fatalf("Expected %d nodes, got %d", len(before), len(after))
	}
	for id, n := range tmpl.Nodes {
		if n.Role != RoleOpaque {
			continue
		}
		if !reflect.DeepEqual(after[id], before[id]) {
			t.Errorf("opaque node %s changed: %v -> %v", id, before[id], after[id])
		}
	}

	// Source template is not modified.
	if !reflect.DeepEqual(tmpl.Document(), before) {
		t.Error("Materialize() mutated the source template")
	}
	if got, _ := tmpl.Nodes["6"].Input("text"); got != "placeholder positive" {
		t.Errorf("source text changed to %v", got)
	}
}

func TestMaterializeSeedsDiffer(t *testing.T) {
	tmpl := loadSquare(t)
	m := NewMaterializer(nil)

	first, err := m.Materialize(tmpl, "same")
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	second, err := m.Materialize(tmpl, "same")
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	if first.Seeds["3"] == second.Seeds["3"] {
		t.Errorf("Expected different seeds, both were %d", first.Seeds["3"])
	}
}

func TestRandomSeedRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		s := RandomSeed()
		if s < SeedMin || s > SeedMax {
			t.Fatalf("seed %d out of range [%d, %d]", s, SeedMin, SeedMax)
		}
	}
}

func TestMaterializeAddsMissingSeedField(t *testing.T) {
	doc, err := DecodeDocument([]byte(wideYAML), FormatYAML)
	if err != nil {
		t.Fatalf("DecodeDocument() error = %v", err)
	}
	tmpl := NewTemplate("wide", doc, nil)

	job, err := NewMaterializer(func() int64 { return 7 }).Materialize(tmpl, "wide shot")
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if seed, ok := job.Template.Nodes["2"].Input("seed"); !ok || seed != int64(7) {
		t.Errorf("Expected seed 7 added to sampler, got %v", seed)
	}
	// FluxSampler is not known to the default classifier.
	if seed, _ := job.Template.Nodes["3"].Input("noise_seed"); seed != 1 {
		t.Errorf("Expected untouched noise_seed 1, got %v", seed)
	}
}

func TestMaterializeCustomRole(t *testing.T) {
	doc, err := DecodeDocument([]byte(wideYAML), FormatYAML)
	if err != nil {
		t.Fatalf("DecodeDocument() error = %v", err)
	}
	rule, err := ParseRoleRule("seed", "noise_seed")
	if err != nil {
		t.Fatalf("ParseRoleRule() error = %v", err)
	}
	tmpl := NewTemplate("wide", doc, NewClassifier(map[string]RoleRule{"FluxSampler": rule}))

	job, err := NewMaterializer(func() int64 { return 99 }).Materialize(tmpl, "x")
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if seed, _ := job.Template.Nodes["3"].Input("noise_seed"); seed != int64(99) {
		t.Errorf("Expected noise_seed 99, got %v", seed)
	}
	if len(job.Seeds) != 2 {
		t.Errorf("Expected 2 seeded nodes, got %d", len(job.Seeds))
	}
}

func TestTemplateJSONKeepsExtraKeys(t *testing.T) {
	tmpl := loadSquare(t)
	job, err := NewMaterializer(func() int64 { return SeedMax }).Materialize(tmpl, "a cat")
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	data, err := json.Marshal(job.Template)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if want := `"seed":1000000000000000`; !strings.Contains(string(data), want) {
		t.Errorf("Expected exact seed %s in %s", want, data)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded["note"] != "free-form value" {
		t.Errorf("Expected note preserved, got %v", decoded["note"])
	}

	positive, _ := decoded["6"].(map[string]any)
	meta, _ := positive["_meta"].(map[string]any)
	if meta["title"] != "Positive" {
		t.Errorf("Expected _meta preserved, got %v", positive["_meta"])
	}
	sampler, _ := decoded["3"].(map[string]any)
	if sampler["class_type"] != "KSampler" {
		t.Errorf("Expected class_type KSampler, got %v", sampler["class_type"])
	}
}
