package labels

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

func TestBuild_SortedIDs(t *testing.T) {
	c, err := Build([]string{"healthy", "stressed", "diseased", "healthy"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := map[string]int{"diseased": 0, "healthy": 1, "stressed": 2}
	for name, id := range want {
		got, err := c.ID(name)
		if err != nil || got != id {
			t.Fatalf("ID(%q) = %d, %v; expected %d", name, got, err, id)
		}
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 classes, got %d", c.Len())
	}
	if !reflect.DeepEqual(c.Names(), []string{"diseased", "healthy", "stressed"}) {
		t.Fatalf("unexpected names %v", c.Names())
	}
}

func TestRoundTrip(t *testing.T) {
	c, _ := Build([]string{"b", "a", "c"})
	for id := range c.Len() {
		name, err := c.Name(id)
		if err != nil {
			t.Fatalf("Name(%d): %v", id, err)
		}
		back, err := c.ID(name)
		if err != nil || back != id {
			t.Fatalf("ID(Name(%d)) = %d, %v", id, back, err)
		}
	}
}

func TestUnknown(t *testing.T) {
	c, _ := Build([]string{"healthy", "diseased"})

	_, err := c.Name(2)
	var idErr *UnknownIDError
	if !errors.As(err, &idErr) || idErr.ID != 2 {
		t.Fatalf("expected UnknownIDError for id 2, got %v", err)
	}
	if _, err := c.Name(-1); err == nil {
		t.Fatalf("expected error for negative id")
	}

	_, err = c.ID("wilted")
	var labelErr *UnknownLabelError
	if !errors.As(err, &labelErr) || labelErr.Name != "wilted" {
		t.Fatalf("expected UnknownLabelError, got %v", err)
	}
	if _, err := c.Encode([]string{"healthy", "wilted"}); err == nil {
		t.Fatalf("expected Encode to fail on an unknown name")
	}
}

func TestBuild_Invalid(t *testing.T) {
	if _, err := Build(nil); err == nil {
		t.Fatalf("expected error for an empty label list")
	}
	if _, err := Build([]string{"healthy", ""}); err == nil {
		t.Fatalf("expected error for an empty label name")
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.json")
	c, _ := Build([]string{"stressed", "healthy"})
	c.ModelVersion = "v-123"
	if err := c.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ModelVersion != "v-123" {
		t.Fatalf("model version lost: %q", loaded.ModelVersion)
	}
	if !reflect.DeepEqual(loaded.Names(), c.Names()) {
		t.Fatalf("names differ after load: %v vs %v", loaded.Names(), c.Names())
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected only the codec file, found %d entries", len(entries))
	}
}

func TestLoad_RejectsNonBijective(t *testing.T) {
	dir := t.TempDir()
	docs := map[string]string{
		"dup.json":    `{"model_version":"x","label2id":{"a":0,"b":0}}`,
		"gap.json":    `{"model_version":"x","label2id":{"a":0,"b":2}}`,
		"empty.json":  `{"model_version":"x","label2id":{}}`,
		"broken.json": `{"label2id":`,
	}
	for name, doc := range docs {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: expected Load to fail", name)
		}
	}
}
