package postprocess

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion3d/codec"
	"github.com/nvr-ai/go-fusion3d/geometry"
	"github.com/nvr-ai/go-fusion3d/head"
	"github.com/nvr-ai/go-fusion3d/util"
)

// parallelCandidates is the candidate count above which overlaps against one kept box are
// computed on several goroutines.
const parallelCandidates = 64

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float32 // Rotated BEV overlap above which the lower-confidence box is suppressed.
	NumWorkers   int     // Number of goroutines for overlap computation; 0 or 1 runs inline.
}

// Decode decodes every site of raw and keeps boxes whose confidence is at least confThreshold,
// in site order.
//
// Arguments:
//   - raw: Head output.
//   - c: Codec for the grid raw was predicted on.
//   - confThreshold: Minimum confidence.
//
// Returns:
//   - []Detection: Unordered detections.
//   - error: raw does not match the codec's grid.
func Decode(raw *head.RawPredictions, c *codec.Codec, confThreshold float32) ([]Detection, error) {
	nx, ny := c.Dims()
	if err := raw.CheckShape(ny, nx, raw.Anchors, codec.BoxLength); err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	var detections []Detection
	for iy := 0; iy < raw.Height; iy++ {
		for ix := 0; ix < raw.Width; ix++ {
			for a := 0; a < raw.Anchors; a++ {
				box, conf := c.Decode(raw.At(iy, ix, a), ix, iy)
				if conf < confThreshold {
					continue
				}
				detections = append(detections, Detection{Box: box, Confidence: conf})
			}
		}
	}
	return detections, nil
}

// SortByConfidence orders detections by descending confidence. Ties keep their input order.
func SortByConfidence(detections []Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}

// ApplyNMS performs greedy Non-Maximum Suppression with rotated overlap.
//
// The highest-confidence remaining box is kept and every remaining box overlapping it by more
// than the threshold is removed, until no boxes remain. A spatial index over the footprint bounds
// limits the overlap computations to boxes whose bounds touch.
//
// Arguments:
//   - detections: Slice of detections sorted by descending confidence.
//   - config: NMS configuration.
//
// Returns:
//   - DetectionResult: The kept detections, still in descending confidence. Nil when no
//     detections are provided.
func ApplyNMS(detections []Detection, config NMSConfig) DetectionResult {
	n := len(detections)
	if n == 0 {
		return nil
	}

	fb := flatbush.NewFlatbush[float64]()
	fb.Reserve(n)
	for _, d := range detections {
		b := d.Box.Bound()
		fb.Add(b.Min[0], b.Min[1], b.Max[0], b.Max[1])
	}
	fb.Finish()

	used := make([]bool, n)
	filtered := make(DetectionResult, 0, n)
	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}
		anchor := detections[i]
		filtered = append(filtered, anchor)
		used[i] = true

		b := anchor.Box.Bound()
		var candidates []int
		for _, j := range fb.Search(b.Min[0], b.Min[1], b.Max[0], b.Max[1]) {
			if j > i && !used[j] {
				candidates = append(candidates, j)
			}
		}
		for k, suppress := range overlapping(anchor.Box, detections, candidates, config) {
			if suppress {
				used[candidates[k]] = true
			}
		}
	}
	return filtered
}

// overlapping reports, per candidate, whether it overlaps box by more than the threshold. Each
// worker writes only its own partition of the result.
func overlapping(box geometry.Box3D, detections []Detection, candidates []int, config NMSConfig) []bool {
	suppress := make([]bool, len(candidates))
	check := func(start, end int) {
		for k := start; k < end; k++ {
			suppress[k] = geometry.RotatedIoU(box, detections[candidates[k]].Box) > config.IoUThreshold
		}
	}
	if config.NumWorkers <= 1 || len(candidates) < parallelCandidates {
		check(0, len(candidates))
	} else {
		util.Parallel(len(candidates), config.NumWorkers, check)
	}
	return suppress
}

// Evaluate turns raw predictions into the frame's final detections: decode, confidence threshold,
// stable descending sort and rotated NMS.
//
// @example
//
//	result, err := postprocess.Evaluate(raw, c, 0.5, postprocess.NMSConfig{IoUThreshold: 0.5})
//	if err != nil {
//	    return err
//	}
//	for _, d := range result {
//	    fmt.Println(d)
//	}
func Evaluate(raw *head.RawPredictions, c *codec.Codec, confThreshold float32, config NMSConfig) (DetectionResult, error) {
	detections, err := Decode(raw, c, confThreshold)
	if err != nil {
		return nil, err
	}
	SortByConfidence(detections)
	result := ApplyNMS(detections, config)
	if result == nil {
		result = DetectionResult{}
	}
	return result, nil
}
