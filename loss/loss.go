// Package loss - provides target assignment and the composite detection loss.
package loss

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/nvr-ai/go-fusion3d/codec"
	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/geometry"
	"github.com/nvr-ai/go-fusion3d/head"
	"github.com/nvr-ai/go-fusion3d/logging"
)

// Options weights the loss terms.
type Options struct {
	// ConfWeight, LocWeight and YawWeight scale the three terms of the total.
	ConfWeight float32
	LocWeight  float32
	YawWeight  float32
	// PositiveWeight scales the confidence loss at positive sites.
	PositiveWeight float32
	// Regression is the per-component error for box and heading targets.
	Regression config.Regression
}

// OptionsFromConfig reads the loss options from a validated configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ConfWeight:     cfg.LossConfWeight,
		LocWeight:      cfg.LossLocWeight,
		YawWeight:      cfg.LossYawWeight,
		PositiveWeight: cfg.LossPositiveWeight,
		Regression:     cfg.LossRegression,
	}
}

// Result is the total loss and its loggable parts.
type Result struct {
	Total        float32
	Confidence   float32
	Localization float32
	Orientation  float32
	NumPositive  int
	// Collisions counts boxes that landed in a cell already claimed by an earlier box.
	Collisions int
	// Skipped counts boxes whose center is outside the grid or whose size is not positive.
	Skipped int
}

// Fields returns r as structured log fields.
func (r Result) Fields() logging.Fields {
	return logging.Fields{
		"loss":         r.Total,
		"conf_loss":    r.Confidence,
		"loc_loss":     r.Localization,
		"yaw_loss":     r.Orientation,
		"num_positive": r.NumPositive,
	}
}

// Targets is the assignment of ground truth to prediction sites.
type Targets struct {
	// Positive marks sites, indexed (iy*W+ix)*A+a, that own a ground-truth box.
	Positive []bool
	// Values holds the encoded target of every positive site.
	Values     map[int][codec.BoxLength]float32
	Collisions int
	Skipped    int
}

// Loss computes the detection loss for one frame. It is immutable and safe for concurrent use.
type Loss struct {
	codec *codec.Codec
	opts  Options
}

// New creates a loss over the codec's grid.
func New(c *codec.Codec, opts Options) *Loss {
	return &Loss{codec: c, opts: opts}
}

// Assign makes the anchor of the cell containing each box's center the positive site for that
// box. With one anchor per cell this is a pure spatial lookup; when two boxes share a cell the
// first keeps it.
func (l *Loss) Assign(gt []geometry.Box3D) Targets {
	nx, ny := l.codec.Dims()
	t := Targets{
		Positive: make([]bool, nx*ny),
		Values:   make(map[int][codec.BoxLength]float32, len(gt)),
	}
	for _, box := range gt {
		if box.H <= 0 || box.W <= 0 || box.L <= 0 {
			t.Skipped++
			continue
		}
		ix, iy, ok := l.codec.CellOf(box.X, box.Y)
		if !ok {
			t.Skipped++
			continue
		}
		site := iy*nx + ix
		if t.Positive[site] {
			t.Collisions++
			continue
		}
		t.Positive[site] = true
		t.Values[site] = l.codec.Encode(box, ix, iy)
	}
	return t
}

// Compute assigns gt to sites and evaluates the loss against raw.
//
// The confidence term is binary cross-entropy on the logits averaged over every site. The
// localization (dx..dl) and orientation (sin, cos) terms sum the per-component regression error
// over positive sites and divide by the number of positives, at least one. A frame without
// ground truth contributes only the confidence term.
//
// Arguments:
//   - raw: Head output for the frame; its grid must match the codec's.
//   - gt: Ground-truth boxes for the frame.
//
// Returns:
//   - Result: The weighted total and its terms.
//   - error: raw does not match the grid.
func (l *Loss) Compute(raw *head.RawPredictions, gt []geometry.Box3D) (Result, error) {
	nx, ny := l.codec.Dims()
	if err := raw.CheckShape(ny, nx, 1, codec.BoxLength); err != nil {
		return Result{}, errors.Wrap(err, "loss input")
	}

	targets := l.Assign(gt)
	res := Result{
		NumPositive: len(targets.Values),
		Collisions:  targets.Collisions,
		Skipped:     targets.Skipped,
	}

	conf := make([]float64, raw.Sites())
	var loc, yaw float64
	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			site := iy*nx + ix
			pred := raw.At(iy, ix, 0)
			if !targets.Positive[site] {
				conf[site] = float64(bceWithLogits(pred[codec.Conf], 0))
				continue
			}
			conf[site] = float64(l.opts.PositiveWeight * bceWithLogits(pred[codec.Conf], 1))

			target := targets.Values[site]
			for k := codec.DX; k <= codec.DL; k++ {
				loc += float64(l.regression(pred[k] - target[k]))
			}
			for k := codec.YawSin; k <= codec.YawCos; k++ {
				yaw += float64(l.regression(pred[k] - target[k]))
			}
		}
	}

	npos := float64(res.NumPositive)
	if npos < 1 {
		npos = 1
	}
	res.Confidence = float32(floats.Sum(conf) / float64(len(conf)))
	res.Localization = float32(loc / npos)
	res.Orientation = float32(yaw / npos)
	res.Total = l.opts.ConfWeight*res.Confidence +
		l.opts.LocWeight*res.Localization +
		l.opts.YawWeight*res.Orientation

	if res.Collisions > 0 || res.Skipped > 0 {
		logging.Debug(logging.Fields{
			"collisions": res.Collisions,
			"skipped":    res.Skipped,
			"boxes":      len(gt),
		}, "ground truth not fully assigned")
	}
	return res, nil
}

func (l *Loss) regression(diff float32) float32 {
	if l.opts.Regression == config.RegressionL2 {
		return diff * diff
	}
	return math32.Abs(diff)
}

// bceWithLogits is binary cross-entropy of sigmoid(x) against label y, in the form that never
// exponentiates a positive number.
func bceWithLogits(x, y float32) float32 {
	return math32.Max(x, 0) - x*y + math32.Log1p(math32.Exp(-math32.Abs(x)))
}
