package workflow

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func writeTemplate(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write template: %v", err)
	}
	return path
}

func TestRegistryDiscoverDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "square.json", squareJSON)
	writeTemplate(t, dir, "wide.yaml", wideYAML)
	writeTemplate(t, dir, "README.md", "not a template")
	if err := os.Mkdir(filepath.Join(dir, "nested.json"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	reg := NewRegistry(nil, nil)
	added, err := reg.Discover(context.Background(), NewDirSource(dir))
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if added != 2 {
		t.Errorf("Expected 2 templates, got %d", added)
	}
	if names := reg.Names(); !reflect.DeepEqual(names, []string{"square", "wide"}) {
		t.Errorf("Unexpected names: %v", names)
	}

	tmpl, err := reg.Resolve(context.Background(), "wide")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if tmpl.Name != "wide" || len(tmpl.Nodes) != 3 {
		t.Errorf("Unexpected template: name=%s nodes=%d", tmpl.Name, len(tmpl.Nodes))
	}
}

func TestRegistryUnknownJobType(t *testing.T) {
	reg := NewRegistry(nil, nil)
	_, err := reg.Resolve(context.Background(), "missing")
	if !errors.Is(err, ErrUnknownJobType) {
		t.Errorf("Expected ErrUnknownJobType, got %v", err)
	}
}

func TestRegistryTemplateLoadError(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "broken json", file: "broken.json", content: `{"3": {"class_type": `},
		{name: "json array", file: "list.json", content: `[1, 2, 3]`},
		{name: "trailing data", file: "trailing.json", content: `{"1": {}} {"2": {}}`},
		{name: "empty yaml", file: "empty.yaml", content: ``},
		{name: "yaml scalar", file: "scalar.yml", content: `just a string`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeTemplate(t, dir, tt.file, tt.content)

			reg := NewRegistry(nil, nil)
			if _, err := reg.Discover(context.Background(), NewDirSource(dir)); err != nil {
				t.Fatalf("Discover() error = %v", err)
			}

			jobType := StemOf(tt.file)
			_, err := reg.Resolve(context.Background(), jobType)
			if !errors.Is(err, ErrTemplateLoad) {
				t.Fatalf("Expected ErrTemplateLoad, got %v", err)
			}
			var loadErr *TemplateLoadError
			if !errors.As(err, &loadErr) || loadErr.JobType != jobType {
				t.Errorf("Expected TemplateLoadError for %s, got %v", jobType, err)
			}
		})
	}
}

func TestRegistryFileRemovedAfterDiscovery(t *testing.T) {
	dir := t.TempDir()
	path := writeTemplate(t, dir, "square.json", squareJSON)

	reg := NewRegistry(nil, nil)
	if _, err := reg.Discover(context.Background(), NewDirSource(dir)); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	os.Remove(path)

	_, err := reg.Resolve(context.Background(), "square")
	if !errors.Is(err, ErrTemplateLoad) {
		t.Errorf("Expected ErrTemplateLoad, got %v", err)
	}
}

func TestRegistryDuplicateFirstWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeTemplate(t, first, "square.json", `{"1": {"class_type": "First", "inputs": {}}}`)
	writeTemplate(t, first, "square.yaml", `"1": {class_type: SameDirYAML, inputs: {}}`)
	writeTemplate(t, second, "square.json", `{"1": {"class_type": "Second", "inputs": {}}}`)

	reg := NewRegistry(nil, nil)
	added, err := reg.Discover(context.Background(), NewDirSource(first), NewDirSource(second))
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if added != 1 {
		t.Errorf("Expected 1 registration, got %d", added)
	}

	tmpl, err := reg.Resolve(context.Background(), "square")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if tmpl.Nodes["1"].ClassType != "First" {
		t.Errorf("Expected first-discovered template, got %s", tmpl.Nodes["1"].ClassType)
	}

	err = reg.Register(NewDirSource(second), Entry{Name: "square", Location: "x.json", Format: FormatJSON})
	if !errors.Is(err, ErrDuplicateJobType) {
		t.Errorf("Expected ErrDuplicateJobType, got %v", err)
	}
}

func TestRegistryMissingDirectory(t *testing.T) {
	reg := NewRegistry(nil, nil)
	added, err := reg.Discover(context.Background(), NewDirSource(filepath.Join(t.TempDir(), "workflows")))
	if err == nil {
		t.Error("Expected error for missing directory")
	}
	if added != 0 {
		t.Errorf("Expected 0 templates, got %d", added)
	}
}

func TestRegistryResolveReturnsIndependentCopies(t *testing.T) {
	reg := NewRegistry(nil, nil)
	src := &StaticSource{Documents: map[string][]byte{"square.json": []byte(squareJSON)}}
	if _, err := reg.Discover(context.Background(), src); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	a, err := reg.Resolve(context.Background(), "square")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	a.Nodes["6"].setInput("text", "mutated")
	a.Nodes["4"].Inputs()["ckpt_name"] = "other.safetensors"
	delete(a.Nodes, "9")

	b, err := reg.Resolve(context.Background(), "square")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got, _ := b.Nodes["6"].Input("text"); got != "placeholder positive" {
		t.Errorf("Expected pristine text, got %v", got)
	}
	if got, _ := b.Nodes["4"].Input("ckpt_name"); got != "v1-5-pruned-emaonly.safetensors" {
		t.Errorf("Expected pristine ckpt_name, got %v", got)
	}
	if _, ok := b.Nodes["9"]; !ok {
		t.Error("Expected node 9 in fresh copy")
	}
}

func TestRegistryConcurrentResolve(t *testing.T) {
	reg := NewRegistry(nil, nil)
	src := &StaticSource{Documents: map[string][]byte{"square.json": []byte(squareJSON)}}
	if _, err := reg.Discover(context.Background(), src); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	m := NewMaterializer(nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tmpl, err := reg.Resolve(context.Background(), "square")
			if err != nil {
				t.Errorf("Resolve() error = %v", err)
				return
			}
			if _, err := m.Materialize(tmpl, "concurrent"); err != nil {
				t.Errorf("Materialize() error = %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestDirSourceRejectsEscapingSymlink(t *testing.T) {
	outside := t.TempDir()
	target := writeTemplate(t, outside, "secret.json", squareJSON)

	dir := t.TempDir()
	if err := os.Symlink(target, filepath.Join(dir, "escape.json")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	reg := NewRegistry(nil, nil)
	if _, err := reg.Discover(context.Background(), NewDirSource(dir)); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	_, err := reg.Resolve(context.Background(), "escape")
	if !errors.Is(err, ErrTemplateLoad) {
		t.Errorf("Expected ErrTemplateLoad for escaping symlink, got %v", err)
	}
}

type fakeObjectStore struct {
	objects map[string]string
	listErr error
}

func (f *fakeObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return io.NopCloser(bytes.NewReader([]byte(body))), nil
}

func TestObjectSource(t *testing.T) {
	store := &fakeObjectStore{objects: map[string]string{
		"templates/square.json":      squareJSON,
		"templates/wide.yml":         wideYAML,
		"templates/archive/old.json": `{}`,
		"templates/notes.txt":        "ignored",
		"other/square.json":          `{}`,
	}}
	src := NewObjectSource(store, "bucket", "templates")

	entries, err := src.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Name != "square" || entries[0].Format != FormatJSON {
		t.Errorf("Unexpected first entry: %+v", entries[0])
	}
	if entries[1].Name != "wide" || entries[1].Format != FormatYAML {
		t.Errorf("Unexpected second entry: %+v", entries[1])
	}

	reg := NewRegistry(nil, nil)
	if _, err := reg.Discover(context.Background(), src); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	tmpl, err := reg.Resolve(context.Background(), "square")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(tmpl.NodesWithRole(RoleTextInput)) != 2 {
		t.Errorf("Expected 2 text inputs, got %d", len(tmpl.NodesWithRole(RoleTextInput)))
	}
}

func TestObjectSourceListError(t *testing.T) {
	src := NewObjectSource(&fakeObjectStore{listErr: errors.New("connection refused")}, "bucket", "")
	reg := NewRegistry(nil, nil)
	if _, err := reg.Discover(context.Background(), src); err == nil {
		t.Error("Expected discover error")
	}
}

func TestObjectStoreConfigValidate(t *testing.T) {
	if (ObjectStoreConfig{}).Enabled() {
		t.Error("empty config should be disabled")
	}
	if err := (ObjectStoreConfig{Endpoint: "minio:9000"}).Validate(); err == nil {
		t.Error("Expected error for missing bucket")
	}
	if _, err := NewMinIOStore(ObjectStoreConfig{Endpoint: "minio:9000", Bucket: "templates"}); err != nil {
		t.Errorf("NewMinIOStore() error = %v", err)
	}
}
