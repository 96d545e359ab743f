package evaluation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-fusion3d/geometry"
	"github.com/nvr-ai/go-fusion3d/postprocess"
)

func car(x, y, yaw float32) geometry.Box3D {
	return geometry.Box3D{X: x, Y: y, H: 1.5, W: 1.6, L: 3.9, Yaw: yaw}
}

func det(box geometry.Box3D, conf float32) postprocess.Detection {
	return postprocess.Detection{Box: box, Confidence: conf}
}

func TestAveragePrecision(t *testing.T) {
	gt := []geometry.Box3D{car(10, 0, 0), car(20, 5, 1.2), car(30, -5, -0.4)}

	tests := []struct {
		name       string
		detections postprocess.DetectionResult
		gt         []geometry.Box3D
		want       float64
	}{
		{
			name:       "perfect",
			detections: postprocess.DetectionResult{det(gt[0], 0.9), det(gt[1], 0.8), det(gt[2], 0.7)},
			gt:         gt,
			want:       1,
		},
		{
			name:       "no overlap",
			detections: postprocess.DetectionResult{det(car(50, 0, 0), 0.9), det(car(10, 10, 0), 0.8)},
			gt:         gt,
			want:       0,
		},
		{
			name: "interleaved false positive",
			// Ranking TP, FP, TP against two boxes: recall 0.5, 0.5, 1; enveloped precision 1, 2/3, 2/3.
			detections: postprocess.DetectionResult{det(gt[1], 0.7), det(gt[0], 0.9), det(car(-40, 0, 0), 0.8)},
			gt:         gt[:2],
			want:       0.5 + 0.5*2.0/3.0,
		},
		{
			name:       "missed box",
			detections: postprocess.DetectionResult{det(gt[0], 0.9)},
			gt:         gt[:2],
			want:       0.5,
		},
		{
			name:       "no ground truth",
			detections: postprocess.DetectionResult{det(gt[0], 0.9)},
			want:       0,
		},
		{
			name: "no detections",
			gt:   gt,
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AveragePrecision(tt.detections, tt.gt, 0.5), 1e-9)
		})
	}
}

func TestMatchFrameConsumesGroundTruthOnce(t *testing.T) {
	gt := []geometry.Box3D{car(10, 0, 0)}
	matches := MatchFrame(postprocess.DetectionResult{det(gt[0], 0.6), det(gt[0], 0.9)}, gt, 0.5)
	require.Len(t, matches, 2)
	assert.Equal(t, Match{Confidence: 0.9, TruePositive: true}, matches[0])
	assert.Equal(t, Match{Confidence: 0.6}, matches[1])
}

func TestMatchFrameThresholdIsExclusive(t *testing.T) {
	gt := []geometry.Box3D{{X: 0, Y: 0, H: 1, W: 2, L: 4}}
	// Half-overlapping box of equal size: IoU exactly 1/3.
	shifted := geometry.Box3D{X: 2, Y: 0, H: 1, W: 2, L: 4}
	iou := geometry.RotatedIoU(gt[0], shifted)
	require.InDelta(t, 1.0/3, iou, 1e-6)

	assert.False(t, MatchFrame(postprocess.DetectionResult{det(shifted, 1)}, gt, iou)[0].TruePositive)
	assert.True(t, MatchFrame(postprocess.DetectionResult{det(shifted, 1)}, gt, iou-1e-4)[0].TruePositive)
}

func TestAccumulatorMatchesUnion(t *testing.T) {
	frameA := []geometry.Box3D{car(10, 0, 0), car(20, 5, 1.2)}
	detsA := postprocess.DetectionResult{det(frameA[0], 0.95), det(car(0, 30, 0), 0.6)}
	frameB := []geometry.Box3D{car(110, 0, 0.3)}
	detsB := postprocess.DetectionResult{det(frameB[0], 0.7), det(car(140, 0, 0), 0.85)}

	acc := NewAccumulator(0.5)
	var wg sync.WaitGroup
	for _, f := range []struct {
		dets postprocess.DetectionResult
		gt   []geometry.Box3D
	}{{detsA, frameA}, {detsB, frameB}} {
		wg.Add(1)
		go func(dets postprocess.DetectionResult, gt []geometry.Box3D) {
			defer wg.Done()
			acc.Add(dets, gt)
		}(f.dets, f.gt)
	}
	wg.Wait()

	union := append(append(postprocess.DetectionResult(nil), detsA...), detsB...)
	gt := append(append([]geometry.Box3D(nil), frameA...), frameB...)
	assert.Equal(t, 2, acc.Frames())
	assert.InDelta(t, AveragePrecision(union, gt, 0.5), acc.AveragePrecision(), 1e-12)
	// Ranking TP(0.95) FP(0.85) TP(0.7) FP(0.6) over three boxes.
	assert.InDelta(t, 1.0/3+1.0/3*2.0/3, acc.AveragePrecision(), 1e-9)
}

func TestAccumulatorEmpty(t *testing.T) {
	assert.Zero(t, NewAccumulator(0.5).AveragePrecision())
}
