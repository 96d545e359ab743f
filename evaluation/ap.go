// Package evaluation - average precision of rotated detections against ground truth.
package evaluation

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/nvr-ai/go-fusion3d/geometry"
	"github.com/nvr-ai/go-fusion3d/postprocess"
)

// Match is the outcome of one ranked detection.
type Match struct {
	Confidence float32
	// TruePositive is set when the detection claimed a ground-truth box.
	TruePositive bool
}

// MatchFrame matches one frame's detections to its ground truth.
//
// Detections are visited in descending confidence. Each claims the unclaimed ground-truth box it
// overlaps most, provided that overlap is strictly above the threshold; otherwise it is a false
// positive. A ground-truth box is claimed at most once.
//
// Arguments:
//   - detections: The frame's detections in any order.
//   - gt: The frame's ground-truth boxes.
//   - threshold: Minimum BEV rotated overlap, exclusive.
//
// Returns:
//   - []Match: One entry per detection, in descending confidence.
func MatchFrame(detections postprocess.DetectionResult, gt []geometry.Box3D, threshold float32) []Match {
	ranked := append([]postprocess.Detection(nil), detections...)
	postprocess.SortByConfidence(ranked)

	claimed := make([]bool, len(gt))
	matches := make([]Match, len(ranked))
	for i, d := range ranked {
		matches[i].Confidence = d.Confidence
		best, bestIoU := -1, threshold
		for j, g := range gt {
			if claimed[j] {
				continue
			}
			if iou := geometry.RotatedIoU(d.Box, g); iou > bestIoU {
				best, bestIoU = j, iou
			}
		}
		if best >= 0 {
			claimed[best] = true
			matches[i].TruePositive = true
		}
	}
	return matches
}

// AveragePrecision is the area under the precision-recall curve of one frame.
//
// The curve uses the monotonic precision envelope (every precision is replaced by the maximum
// precision at equal or higher recall) and is integrated over all recall steps. Without ground
// truth or without detections the value is 0.
func AveragePrecision(detections postprocess.DetectionResult, gt []geometry.Box3D, threshold float32) float64 {
	return FromMatches(MatchFrame(detections, gt, threshold), len(gt))
}

// FromMatches integrates the precision-recall curve of matches, which may span several frames,
// against numGT ground-truth boxes.
func FromMatches(matches []Match, numGT int) float64 {
	if numGT == 0 || len(matches) == 0 {
		return 0
	}
	ranked := append([]Match(nil), matches...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	tp := make([]float64, len(ranked))
	fp := make([]float64, len(ranked))
	for i, m := range ranked {
		if m.TruePositive {
			tp[i] = 1
		} else {
			fp[i] = 1
		}
	}
	floats.CumSum(tp, tp)
	floats.CumSum(fp, fp)

	recall := make([]float64, len(ranked))
	precision := make([]float64, len(ranked))
	for i := range ranked {
		recall[i] = tp[i] / float64(numGT)
		precision[i] = tp[i] / (tp[i] + fp[i])
	}
	for i := len(precision) - 2; i >= 0; i-- {
		if precision[i+1] > precision[i] {
			precision[i] = precision[i+1]
		}
	}

	var ap, prevRecall float64
	for i := range ranked {
		ap += (recall[i] - prevRecall) * precision[i]
		prevRecall = recall[i]
	}
	return ap
}

// Accumulator gathers matches over many frames so AP can be computed for a dataset. It is safe
// for concurrent use.
type Accumulator struct {
	mu        sync.Mutex
	threshold float32
	matches   []Match
	numGT     int
	frames    int
}

// NewAccumulator creates an accumulator matching at threshold.
func NewAccumulator(threshold float32) *Accumulator {
	return &Accumulator{threshold: threshold}
}

// Add matches one frame and records the outcome.
func (a *Accumulator) Add(detections postprocess.DetectionResult, gt []geometry.Box3D) {
	matches := MatchFrame(detections, gt, a.threshold)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.matches = append(a.matches, matches...)
	a.numGT += len(gt)
	a.frames++
}

// Frames returns the number of frames added.
func (a *Accumulator) Frames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}

// AveragePrecision returns the AP over every frame added so far.
func (a *Accumulator) AveragePrecision() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return FromMatches(a.matches, a.numGT)
}
