package datasets

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// Split makes a stratified train/validation split: each class contributes
// round(fraction * count) sequences to validation, keeping at least one in
// training. The same seed always yields the same split.
func (d *SequenceDataset) Split(fraction float64, seed int64) (trainSet, validation *SequenceDataset, err error) {
	if fraction < 0 || fraction >= 1 {
		return nil, nil, errors.Errorf("validation fraction must be in [0, 1), got %v", fraction)
	}
	byClass := make(map[int][]int)
	for i, id := range d.ids {
		byClass[id] = append(byClass[id], i)
	}
	classes := make([]int, 0, len(byClass))
	for id := range byClass {
		classes = append(classes, id)
	}
	sort.Ints(classes)

	rng := rand.New(rand.NewSource(seed))
	var trainIdx, valIdx []int
	for _, id := range classes {
		members := byClass[id]
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		nVal := int(math.Round(fraction * float64(len(members))))
		if nVal >= len(members) {
			nVal = len(members) - 1
		}
		valIdx = append(valIdx, members[:nVal]...)
		trainIdx = append(trainIdx, members[nVal:]...)
	}
	sort.Ints(trainIdx)
	sort.Ints(valIdx)
	return d.Subset(trainIdx), d.Subset(valIdx), nil
}
