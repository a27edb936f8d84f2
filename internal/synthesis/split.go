package synthesis

import (
	"math/rand"

	"github.com/apify-store/dataset-schema-super-actor/internal/charts"
)

// SplitDatasets shuffles the references and halves them: the first half
// (rounded up) feeds generation, the rest is reserved for validation. The
// halves are disjoint and the shuffle makes membership non-deterministic per
// run.
func SplitDatasets(references []charts.DatasetRef) (generation, validation []charts.DatasetRef) {
	shuffled := append([]charts.DatasetRef(nil), references...)
	rand.Shuffle(len(shuffled), func(left, right int) {
		shuffled[left], shuffled[right] = shuffled[right], shuffled[left]
	})
	midpoint := (len(shuffled) + 1) / 2
	return shuffled[:midpoint], shuffled[midpoint:]
}
