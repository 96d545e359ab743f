// Package inference - the end-to-end detector: voxelization, network, decoding, NMS and scoring.
package inference

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion3d/codec"
	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/evaluation"
	"github.com/nvr-ai/go-fusion3d/head"
	"github.com/nvr-ai/go-fusion3d/logging"
	"github.com/nvr-ai/go-fusion3d/loss"
	"github.com/nvr-ai/go-fusion3d/network"
	"github.com/nvr-ai/go-fusion3d/postprocess"
	"github.com/nvr-ai/go-fusion3d/util"
	"github.com/nvr-ai/go-fusion3d/voxel"
)

// Detector runs the full pipeline on frames. It is safe for concurrent use; frames share only
// the immutable builder and codec and the backend.
type Detector struct {
	cfg     *config.Config
	voxels  *voxel.Builder
	codec   *codec.Codec
	backend network.Backend
	loss    *loss.Loss
	nms     postprocess.NMSConfig
}

// Report summarizes detection over a set of labelled frames.
type Report struct {
	Frames           int
	Detections       int
	GroundTruth      int
	AveragePrecision float64
	Elapsed          time.Duration
}

// Fields returns the report as log fields.
func (r Report) Fields() logging.Fields {
	return logging.Fields{
		"frames":       r.Frames,
		"detections":   r.Detections,
		"ground_truth": r.GroundTruth,
		"ap":           r.AveragePrecision,
		"elapsed_ms":   r.Elapsed.Milliseconds(),
	}
}

// Config returns the detector's configuration.
func (d *Detector) Config() *config.Config {
	return d.cfg
}

// Codec returns the detector's anchor codec.
func (d *Detector) Codec() *codec.Codec {
	return d.codec
}

// Forward voxelizes the frame's points and runs the network.
//
// Arguments:
//   - ctx: Checked before each stage.
//   - f: The frame. Its image is required.
//
// Returns:
//   - *head.RawPredictions: The un-activated prediction grid.
//   - error: Cancellation, a missing image or a backend failure.
func (d *Detector) Forward(ctx context.Context, f Frame) (*head.RawPredictions, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Image == nil {
		return nil, errors.New("frame has no image")
	}
	grid := d.voxels.Build(f.Points)
	return d.backend.Forward(ctx, network.Input{Grid: grid, Image: f.Image})
}

// Predict returns the frame's final detections.
//
// @example
//
//	result, err := detector.Predict(ctx, inference.Frame{Points: cloud, Image: img})
//	if err != nil {
//	    return err
//	}
//	for _, d := range result {
//	    fmt.Println(d)
//	}
func (d *Detector) Predict(ctx context.Context, f Frame) (postprocess.DetectionResult, error) {
	raw, err := d.Forward(ctx, f)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return postprocess.Evaluate(raw, d.codec, d.cfg.InferenceConfThreshold, d.nms)
}

// Loss returns the training loss of the frame against its ground truth.
func (d *Detector) Loss(ctx context.Context, f Frame) (loss.Result, error) {
	raw, err := d.Forward(ctx, f)
	if err != nil {
		return loss.Result{}, err
	}
	result, err := d.loss.Compute(raw, f.GroundTruth)
	if err != nil {
		return loss.Result{}, err
	}
	if logging.DebugEnabled() {
		logging.Debug(result.Fields(), "frame loss")
	}
	return result, nil
}

// DetectBatch runs Predict on frames concurrently, Workers.Frames at a time.
//
// Arguments:
//   - ctx: Checked before each frame.
//   - frames: The frames.
//
// Returns:
//   - []postprocess.DetectionResult: One result per frame, in input order.
//   - error: The first failure, by frame order.
func (d *Detector) DetectBatch(ctx context.Context, frames []Frame) ([]postprocess.DetectionResult, error) {
	results := make([]postprocess.DetectionResult, len(frames))
	errs := make([]error, len(frames))
	util.Parallel(len(frames), d.cfg.Workers.Frames, func(start, end int) {
		for i := start; i < end; i++ {
			results[i], errs[i] = d.Predict(ctx, frames[i])
		}
	})
	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", i)
		}
	}
	return results, nil
}

// Evaluate detects every frame and scores the detections against the ground truth.
//
// Arguments:
//   - ctx: Checked before each frame.
//   - frames: Labelled frames.
//
// Returns:
//   - Report: Counts and the average precision over all frames.
//   - error: The first detection failure.
func (d *Detector) Evaluate(ctx context.Context, frames []Frame) (Report, error) {
	start := time.Now()
	results, err := d.DetectBatch(ctx, frames)
	if err != nil {
		return Report{}, err
	}

	acc := evaluation.NewAccumulator(d.cfg.MAPOverlapThreshold)
	report := Report{Frames: len(frames)}
	for i, result := range results {
		acc.Add(result, frames[i].GroundTruth)
		report.Detections += len(result)
		report.GroundTruth += len(frames[i].GroundTruth)
	}
	report.AveragePrecision = acc.AveragePrecision()
	report.Elapsed = time.Since(start)

	logging.Info(report.Fields(), "evaluation complete")
	return report, nil
}

// Close releases the backend.
func (d *Detector) Close() error {
	return d.backend.Close()
}
