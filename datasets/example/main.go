package main

// Example command that loads a training metadata table, assembles its images
// into frame sequences and prints what the training driver would see: class
// balance, degenerate sequences and the stratified split.
//
// Usage:
//   go run ./datasets/example -images path/to/images [-metadata table.csv] [-temporal]
//
// Without -metadata the first CSV file under -images is used.

import (
	"flag"
	"fmt"
	"sort"

	"k8s.io/klog/v2"

	"github.com/Noofbiz/cropHealth/datasets"
	"github.com/Noofbiz/cropHealth/frames"
	"github.com/Noofbiz/cropHealth/labels"
)

func main() {
	imageDir := flag.String("images", "", "directory with one image per metadata id")
	metadataPath := flag.String("metadata", "", "metadata CSV (id,label[,plot_id,captured_at])")
	imageSize := flag.Int("image-size", 224, "frame side")
	timesteps := flag.Int("timesteps", 3, "sequence length")
	temporal := flag.Bool("temporal", false, "group captures of the same plot_id into one sequence")
	validation := flag.Float64("validation", 0.2, "validation fraction")
	klog.InitFlags(nil)
	flag.Parse()

	if *imageDir == "" {
		klog.Fatalf("-images is required")
	}
	if *metadataPath == "" {
		found, err := datasets.FindMetadataCSV(*imageDir)
		if err != nil {
			klog.Fatalf("failed to find metadata: %v", err)
		}
		*metadataPath = found
	}
	fmt.Printf("Using metadata table: %s\n", *metadataPath)

	meta, err := datasets.LoadMetadata(*metadataPath)
	if err != nil {
		klog.Fatalf("failed to load metadata: %v", err)
	}
	fmt.Printf("Labelled samples: %d (unlabelled dropped: %d)\n", len(meta.Records), meta.Unlabelled)

	codec, err := labels.Build(meta.Labels())
	if err != nil {
		klog.Fatalf("failed to build label codec: %v", err)
	}

	policy := frames.Replicated
	if *temporal {
		policy = frames.TrueTemporal
	}
	ds, err := datasets.Assemble(meta, codec, datasets.AssembleOptions{
		ImageDir:   *imageDir,
		Normalizer: frames.Normalizer{ImageSize: *imageSize},
		Builder:    frames.Builder{Timesteps: *timesteps, Policy: policy},
	})
	if err != nil {
		klog.Fatalf("failed to assemble sequences: %v", err)
	}
	fmt.Printf("Sequences: %d, each (%d, %d, %d, 3); degenerate: %d\n",
		ds.Len(), *timesteps, *imageSize, *imageSize, ds.Degenerate)

	printBalance := func(name string, d *datasets.SequenceDataset) {
		counts := make(map[int]int)
		for _, id := range d.Labels() {
			counts[id]++
		}
		ids := make([]int, 0, len(counts))
		for id := range counts {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		fmt.Printf("%s (%d sequences):\n", name, d.Len())
		for _, id := range ids {
			label, _ := codec.Name(id)
			fmt.Printf("  %2d %-20s %d\n", id, label, counts[id])
		}
	}
	printBalance("All", ds)

	trainSet, validationSet, err := ds.Split(*validation, 42)
	if err != nil {
		klog.Fatalf("failed to split: %v", err)
	}
	printBalance("Train", trainSet)
	printBalance("Validation", validationSet)

	if ds.Len() > 0 {
		seq, id, err := ds.Example(0)
		if err != nil {
			klog.Fatalf("failed to read first sequence: %v", err)
		}
		label, _ := codec.Name(id)
		fmt.Printf("First sequence: unit %q, label %q, %d values\n", ds.Units[0], label, len(seq))
	}
}
