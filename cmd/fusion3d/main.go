// Command fusion3d runs the camera and LiDAR vehicle detector on KITTI-style frames.
//
// gorgonia pulls in go4.org/unsafe/assume-no-moving-gc, which panics at init on toolchains newer
// than it knows about. Builds with Go 1.24 must run with the variable set, for the binary and
// for go test alike:
//
//	export ASSUME_NO_MOVING_GC_UNSAFE_RISK_IT_WITH=go1.24
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fusion3d/benchmark"
	"github.com/nvr-ai/go-fusion3d/config"
	"github.com/nvr-ai/go-fusion3d/evaluation"
	"github.com/nvr-ai/go-fusion3d/inference"
	"github.com/nvr-ai/go-fusion3d/logging"
	"github.com/nvr-ai/go-fusion3d/network"
	"github.com/nvr-ai/go-fusion3d/util"
)

// Environment overrides, read after .env is loaded.
const (
	envConfig   = "FUSION3D_CONFIG"
	envLogLevel = "FUSION3D_LOG_LEVEL"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args, os.Stdout); err != nil {
		logging.Error(logging.Fields{"error": err.Error()}, "fusion3d failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	parser := argparse.NewParser("fusion3d", "Camera and LiDAR 3D vehicle detector")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file (default: built-in, or $" + envConfig + ")", Default: os.Getenv(envConfig)})

	detect := parser.NewCommand("detect", "Detect vehicles in one frame")
	points := detect.String("p", "points", &argparse.Options{Help: "KITTI velodyne .bin scan", Required: true})
	img := detect.String("i", "image", &argparse.Options{Help: "Camera image (.png, .jpg or .bmp)", Required: true})
	labels := detect.String("l", "labels", &argparse.Options{Help: "Ground truth rows 'x y z h w l yaw'; prints AP and loss", Default: ""})

	evaluate := parser.NewCommand("evaluate", "Detect and score every frame of a dataset split")
	dataDir := evaluate.String("d", "data", &argparse.Options{Help: "Directory holding velodyne/, image_2/ and label_2/", Required: true})

	bench := parser.NewCommand("bench", "Benchmark the detector on synthetic frames")
	iterations := bench.Int("n", "iterations", &argparse.Options{Help: "Frames measured per scenario", Default: 20})
	benchOut := bench.String("o", "output", &argparse.Options{Help: "Directory for JSON and CSV results", Default: ""})

	initWeights := parser.NewCommand("init-weights", "Write the seeded native network parameters as .npy files")
	weightsDir := initWeights.String("o", "output", &argparse.Options{Help: "Output directory", Required: true})

	if err := parser.Parse(args); err != nil {
		return errors.New(parser.Usage(err))
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if err := logging.Configure(cfg.Log); err != nil {
		return err
	}

	switch {
	case detect.Happened():
		return runDetect(ctx, cfg, util.FrameFiles{Points: *points, Image: *img, Labels: *labels}, out)
	case evaluate.Happened():
		return runEvaluate(ctx, cfg, *dataDir, out)
	case bench.Happened():
		return runBench(ctx, cfg, *iterations, *benchOut, out)
	case initWeights.Happened():
		return runInitWeights(cfg, *weightsDir, out)
	}
	return errors.New(parser.Usage("no command given"))
}

// loadConfig reads path, or the defaults when path is empty, and applies the log level override.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if level := os.Getenv(envLogLevel); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

func runDetect(ctx context.Context, cfg *config.Config, files util.FrameFiles, out io.Writer) error {
	frame, err := inference.LoadFrame(files)
	if err != nil {
		return err
	}
	d, err := inference.NewDetectorBuilder().WithConfig(cfg).Build()
	if err != nil {
		return err
	}
	defer d.Close()

	result, err := d.Predict(ctx, frame)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d detections\n", len(result))
	for _, det := range result {
		fmt.Fprintln(out, det)
	}

	if files.Labels == "" {
		return nil
	}
	ap := evaluation.AveragePrecision(result, frame.GroundTruth, cfg.MAPOverlapThreshold)
	l, err := d.Loss(ctx, frame)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "ground truth %d, AP %.4f, loss %.4f (conf %.4f, loc %.4f, yaw %.4f)\n",
		len(frame.GroundTruth), ap, l.Total, l.Confidence, l.Localization, l.Orientation)
	return nil
}

func runEvaluate(ctx context.Context, cfg *config.Config, dir string, out io.Writer) error {
	frames, err := inference.LoadFrames(dir, cfg.Workers.Frames)
	if err != nil {
		return err
	}
	d, err := inference.NewDetectorBuilder().WithConfig(cfg).Build()
	if err != nil {
		return err
	}
	defer d.Close()

	report, err := d.Evaluate(ctx, frames)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "frames %d, detections %d, ground truth %d, AP %.4f\n",
		report.Frames, report.Detections, report.GroundTruth, report.AveragePrecision)
	return nil
}

func runBench(ctx context.Context, cfg *config.Config, iterations int, dir string, out io.Writer) error {
	d, err := inference.NewDetectorBuilder().WithConfig(cfg).Build()
	if err != nil {
		return err
	}
	defer d.Close()

	suite := benchmark.NewSuite(d, cfg, dir)
	for _, s := range benchmark.QuickScenarios(iterations) {
		suite.AddScenario(s)
	}
	if err := suite.RunAllScenarios(ctx); err != nil {
		return err
	}
	for _, m := range suite.GetResults() {
		fmt.Fprintf(out, "%-24s %8.2f fps  p50 %8.2f ms  p95 %8.2f ms  errors %.2f\n",
			m.Scenario.Name, m.FramesPerSecond, m.Latency.P50, m.Latency.P95, m.ErrorRate)
	}
	return nil
}

func runInitWeights(cfg *config.Config, dir string, out io.Writer) error {
	n, err := network.NewNative(cfg)
	if err != nil {
		return err
	}
	defer n.Close()

	if err := n.Params().SaveDir(dir); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d parameters to %s\n", len(n.Params().Names()), dir)
	return nil
}
