// Package progress converts the hydration pipeline's step counts into a
// single 0-100 percentage.
package progress

// StepsPerBatch is the number of discrete operations each batch reports:
// synthesize, align, map, segment.
const StepsPerBatch = 4

// Shares of total progress. When there is nothing to upload the batch phase
// takes the whole range.
const (
	batchShare  = 70.0
	uploadShare = 30.0
)

// stepWeights is the cumulative share of one batch after n of its steps.
// Synthesis dominates (50%), then alignment (20%), mapping and segmenting (15% each).
var stepWeights = [StepsPerBatch + 1]float64{0, 0.50, 0.70, 0.85, 1.0}

// Func maps a completed operation count to a percentage in [0, 100].
type Func func(completed int) float64

// TotalOperations returns the operation count at which a Func reaches 100.
func TotalOperations(batches, lines int) int {
	return max(batches, 0)*StepsPerBatch + max(lines, 0)
}

// NewWeighted returns a progress function for a run of the given number of
// batches and uploaded lines. Operations are counted in pipeline order: all
// batch steps first, then one per uploaded line. The result never decreases
// as completed grows and is exactly 100 only from TotalOperations on.
func NewWeighted(batches, lines int) Func {
	batches = max(batches, 0)
	lines = max(lines, 0)
	batchOps := batches * StepsPerBatch
	total := batchOps + lines

	share := batchShare
	if lines == 0 {
		share = 100
	}

	return func(completed int) float64 {
		switch {
		case completed >= total:
			return 100
		case completed <= 0:
			return 0
		case completed <= batchOps:
			perBatch := share / float64(batches)
			done := completed / StepsPerBatch
			step := completed % StepsPerBatch
			return float64(done)*perBatch + stepWeights[step]*perBatch
		default:
			uploaded := completed - batchOps
			return share + float64(uploaded)/float64(lines)*uploadShare
		}
	}
}
