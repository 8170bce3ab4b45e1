/*
NAME
  main.go

DESCRIPTION
  jupiter-stack is the thin demonstration shell around the stacking
  pipeline: it opens a directory-of-PNGs reference frame source,
  optionally loads a YAML configuration, runs the pipeline, writes the
  stacked result, and -- if requested -- a downscaled WebP preview.
  Everything it does is a host-shell concern the core library is
  explicitly not responsible for: config parsing, logging setup,
  output encoding, and progress display (see spec.md's Out-of-scope
  list and Sec 6's External Interfaces).
*/
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"github.com/HugoSmits86/nativewebp"
	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/lucky-imaging/jupiter/align"
	"github.com/lucky-imaging/jupiter/compute"
	"github.com/lucky-imaging/jupiter/frame"
	"github.com/lucky-imaging/jupiter/pipeline"
	"github.com/lucky-imaging/jupiter/quality"
	"github.com/lucky-imaging/jupiter/source"
	"github.com/lucky-imaging/jupiter/stack"
)

const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
	logMaxAgeDays = 28
)

func main() {
	inDir := flag.String("dir", "", "directory of numbered PNG frames to stack")
	outPath := flag.String("out", "stacked.png", "output image path")
	configPath := flag.String("config", "", "optional YAML config file overriding the pipeline defaults")
	logPath := flag.String("logfile", "jupiter-stack.log", "log file path (rotated via lumberjack)")
	logLevel := flag.Int("loglevel", int(logging.Info), "log verbosity (0=Debug .. 4=Fatal)")
	previewPath := flag.String("preview", "", "optional downscaled WebP preview path")
	previewWidth := flag.Int("preview-width", 512, "preview width in pixels; height keeps the source aspect ratio")
	flag.Parse()

	fileLog := &lumberjack.Logger{
		Filename:   *logPath,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
	}
	log := logging.New(int8(*logLevel), io.MultiWriter(fileLog, os.Stderr), false)

	if err := run(*inDir, *outPath, *configPath, *previewPath, *previewWidth, log); err != nil {
		log.Error("jupiter-stack failed", "error", err.Error())
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(inDir, outPath, configPath, previewPath string, previewWidth int, log logging.Logger) error {
	if inDir == "" {
		return errors.New("-dir is required")
	}

	cfg := pipeline.DefaultConfig()
	if configPath != "" {
		if err := loadYAMLConfig(configPath, &cfg); err != nil {
			return errors.Wrap(err, "loading config")
		}
	}
	if err := cfg.Validate(log); err != nil {
		return errors.Wrap(err, "validating config")
	}

	src, err := source.OpenDir(inDir, frame.Mono)
	if err != nil {
		return errors.Wrapf(err, "opening frame directory %q", inDir)
	}

	backend, err := compute.New(cfg.Device, log)
	if err != nil {
		return errors.Wrap(err, "constructing compute backend")
	}
	log.Info("compute backend ready", "name", backend.Name())

	reporter := &logReporter{log: log}
	out, err := pipeline.Run(src, cfg, backend, reporter)
	if err != nil {
		return errors.Wrap(err, "running pipeline")
	}

	img := frameToImage(out.ToMono())
	if err := writePNG(outPath, img); err != nil {
		return errors.Wrapf(err, "writing output %q", outPath)
	}
	log.Info("wrote stacked output", "path", outPath)

	if previewPath != "" {
		if err := writePreview(previewPath, img, previewWidth); err != nil {
			return errors.Wrapf(err, "writing preview %q", previewPath)
		}
		log.Info("wrote preview", "path", previewPath)
	}
	return nil
}

// yamlConfig mirrors pipeline.Config's recognised options (spec.md
// Sec 6's configuration surface) with plain, YAML-friendly field
// types. Parsing this file is entirely the CLI's job: the core
// pipeline only ever consumes a pipeline.Config value.
type yamlConfig struct {
	SelectPercentage float32 `yaml:"select_percentage"`
	Metric           string  `yaml:"metric"`
	AlignMethod      string  `yaml:"align_method"`
	StackMethod      string  `yaml:"stack_method"`
	Device           string  `yaml:"device"`
	Memory           string  `yaml:"memory"`
	ForceMono        bool    `yaml:"force_mono"`
}

func loadYAMLConfig(path string, cfg *pipeline.Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var y yamlConfig
	if err := yaml.NewDecoder(f).Decode(&y); err != nil {
		return err
	}

	if y.SelectPercentage > 0 {
		cfg.FrameSelection.SelectPercentage = y.SelectPercentage
	}
	switch y.Metric {
	case "laplacian", "":
		cfg.FrameSelection.Metric = quality.Laplacian
	case "gradient":
		cfg.FrameSelection.Metric = quality.Gradient
	default:
		return errors.Errorf("unknown metric %q", y.Metric)
	}
	switch y.AlignMethod {
	case "", "phase":
		cfg.Alignment.Method = align.PhaseCorrelation
	case "enhanced":
		cfg.Alignment.Method = align.EnhancedPhase
	case "centroid":
		cfg.Alignment.Method = align.Centroid
	case "gradient":
		cfg.Alignment.Method = align.GradientCorrelation
	case "pyramid":
		cfg.Alignment.Method = align.Pyramid
	default:
		return errors.Errorf("unknown align_method %q", y.AlignMethod)
	}
	switch y.StackMethod {
	case "", "mean":
		cfg.Stacking.Method = stack.Mean
	case "median":
		cfg.Stacking.Method = stack.Median
	case "sigmaclip":
		cfg.Stacking.Method = stack.SigmaClip
	case "multipoint":
		cfg.Stacking.Method = stack.MultiPoint
	default:
		return errors.Errorf("unknown stack_method %q", y.StackMethod)
	}
	switch y.Device {
	case "", "auto":
		cfg.Device = compute.Auto
	case "cpu":
		cfg.Device = compute.Cpu
	case "gpu":
		cfg.Device = compute.Gpu
	case "cuda":
		cfg.Device = compute.Cuda
	default:
		return errors.Errorf("unknown device %q", y.Device)
	}
	switch y.Memory {
	case "", "auto":
		cfg.Memory = pipeline.AutoMemory
	case "eager":
		cfg.Memory = pipeline.Eager
	case "lowmemory":
		cfg.Memory = pipeline.LowMemory
	default:
		return errors.Errorf("unknown memory %q", y.Memory)
	}
	cfg.ForceMono = y.ForceMono
	return nil
}

// logReporter drives pipeline.ProgressReporter by logging one line per
// stage boundary -- the host-side half of the progress channel named
// in spec.md Sec 6.
type logReporter struct {
	log   logging.Logger
	stage pipeline.Stage
	total int
}

func (r *logReporter) BeginStage(stage pipeline.Stage, total int) {
	r.stage, r.total = stage, total
	r.log.Info("stage begin", "stage", stage.String(), "total", total)
}

func (r *logReporter) Advance(done int) {
	r.log.Debug("stage progress", "stage", r.stage.String(), "done", done, "total", r.total)
}

func (r *logReporter) FinishStage() {
	r.log.Info("stage finish", "stage", r.stage.String())
}

// frameToImage quantises a Frame back to its OriginalBitDepth (8 or
// 16-bit grayscale) -- the quantisation step spec.md Sec 6 assigns to
// the output sink, not the core.
func frameToImage(f frame.Frame) image.Image {
	if f.OriginalBitDepth > 8 {
		img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
		for row := 0; row < f.Height; row++ {
			for col := 0; col < f.Width; col++ {
				v := f.At(row, col)
				img.SetGray16(col, row, color.Gray16{Y: quantise16(v)})
			}
		}
		return img
	}
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for row := 0; row < f.Height; row++ {
		for col := 0; col < f.Width; col++ {
			v := f.At(row, col)
			img.SetGray(col, row, color.Gray{Y: quantise8(v)})
		}
	}
	return img
}

func quantise8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

func quantise16(v float32) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 65535
	}
	return uint16(v*65535 + 0.5)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// writePreview downscales img to width (preserving aspect ratio) with
// a Catmull-Rom resample and encodes it as WebP -- a cheap diagnostic
// artifact, not the pipeline's primary output contract.
func writePreview(path string, img image.Image, width int) error {
	b := img.Bounds()
	if width <= 0 || width >= b.Dx() {
		width = b.Dx()
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return nativewebp.Encode(f, dst, nil)
}
