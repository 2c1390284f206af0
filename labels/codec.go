// Package labels maps class names to dense integer ids and back.
//
// Ids are assigned by sorting the unique names, so the same label set always
// produces the same mapping. A Codec is persisted next to the model weights
// and carries the model version it was trained with.
package labels

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// UnknownLabelError is returned when encoding a name the codec does not hold.
type UnknownLabelError struct {
	Name string
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("unknown label %q", e.Name)
}

// UnknownIDError is returned when decoding an id outside [0, K-1].
type UnknownIDError struct {
	ID         int
	NumClasses int
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("unknown class id %d, valid ids are [0, %d]", e.ID, e.NumClasses-1)
}

// Codec is a bijection between label names and ids 0..K-1.
type Codec struct {
	// ModelVersion ties the codec to the weights it was saved with. Empty
	// until the model is persisted.
	ModelVersion string

	names []string
	ids   map[string]int
}

// Build creates a Codec from the (possibly repeated) names seen in training.
func Build(names []string) (*Codec, error) {
	if len(names) == 0 {
		return nil, errors.New("cannot build a label codec from an empty label list")
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			return nil, errors.New("empty label name")
		}
		set[n] = struct{}{}
	}
	unique := make([]string, 0, len(set))
	for n := range set {
		unique = append(unique, n)
	}
	sort.Strings(unique)
	return fromSorted(unique), nil
}

func fromSorted(names []string) *Codec {
	c := &Codec{names: names, ids: make(map[string]int, len(names))}
	for i, n := range names {
		c.ids[n] = i
	}
	return c
}

// Len is the number of classes K.
func (c *Codec) Len() int { return len(c.names) }

// Names returns the label names ordered by id.
func (c *Codec) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// ID encodes a label name.
func (c *Codec) ID(name string) (int, error) {
	id, ok := c.ids[name]
	if !ok {
		return 0, &UnknownLabelError{Name: name}
	}
	return id, nil
}

// Name decodes a class id.
func (c *Codec) Name(id int) (string, error) {
	if id < 0 || id >= len(c.names) {
		return "", &UnknownIDError{ID: id, NumClasses: len(c.names)}
	}
	return c.names[id], nil
}

// Encode maps every name, failing on the first unknown one.
func (c *Codec) Encode(names []string) ([]int, error) {
	ids := make([]int, len(names))
	for i, n := range names {
		id, err := c.ID(n)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

type codecFile struct {
	ModelVersion string         `json:"model_version"`
	Label2ID     map[string]int `json:"label2id"`
}

// MarshalJSON writes the codec as {"model_version": ..., "label2id": {...}}.
func (c *Codec) MarshalJSON() ([]byte, error) {
	return json.Marshal(codecFile{ModelVersion: c.ModelVersion, Label2ID: c.ids})
}

// UnmarshalJSON reads a codec document and checks that its ids are dense and
// unique.
func (c *Codec) UnmarshalJSON(data []byte) error {
	var doc codecFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if len(doc.Label2ID) == 0 {
		return errors.New("label codec has no labels")
	}
	names := make([]string, len(doc.Label2ID))
	for name, id := range doc.Label2ID {
		if name == "" {
			return errors.New("label codec holds an empty label name")
		}
		if id < 0 || id >= len(names) {
			return errors.Errorf("label %q has id %d outside [0, %d]", name, id, len(names)-1)
		}
		if names[id] != "" {
			return errors.Errorf("labels %q and %q share id %d", names[id], name, id)
		}
		names[id] = name
	}
	*c = *fromSorted(names)
	c.ModelVersion = doc.ModelVersion
	return nil
}

// Save writes the codec as JSON, through a temporary file renamed into place.
func (c *Codec) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding label codec")
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return errors.Wrap(err, "creating temporary codec file")
	}
	tmpName := tmp.Name()
	defer func() {
		tmp.Close()
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		return errors.Wrap(err, "writing label codec")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temporary codec file")
	}
	return errors.Wrap(os.Rename(tmpName, path), "renaming label codec into place")
}

// Load reads a codec saved with Save.
func Load(path string) (*Codec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading label codec %q", path)
	}
	c := &Codec{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.Wrapf(err, "parsing label codec %q", path)
	}
	return c, nil
}
