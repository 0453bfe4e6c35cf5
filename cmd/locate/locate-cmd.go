package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"go.uber.org/multierr"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/robot"
	"go.viam.com/rdk/services/vision"
	rutils "go.viam.com/rdk/utils"

	"github.com/erh/objlocate"
	"github.com/erh/objlocate/depth"
	"github.com/erh/objlocate/detector"
	"github.com/erh/objlocate/frames"
	"github.com/erh/objlocate/locate"
	"github.com/erh/objlocate/overlay"
	"github.com/erh/objlocate/pipeline"
	"github.com/erh/objlocate/realsense"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

type options struct {
	host          string
	cameraName    string
	visionName    string
	colorSource   string
	depthSource   string
	depthScale    float64
	minConfidence float64
	dir           string
	detections    string
	save          string
	out           string
	seq           int
	x, y          int
	numFrames     int
	loop          bool
	fps           float64
	warmup        int
}

func realMain() error {
	logger := logging.NewLogger("objlocate")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	o := options{}
	cmd := flag.String("cmd", "", "run|replay|props|depth|overlay")
	flag.StringVar(&o.host, "host", "", "hostname, uses the viam cli token; machine env vars when empty")
	flag.StringVar(&o.cameraName, "camera", "", "depth camera to use")
	flag.StringVar(&o.visionName, "vision", "", "vision service")
	flag.StringVar(&o.colorSource, "color-source", "", "color image source name")
	flag.StringVar(&o.depthSource, "depth-source", "", "depth image source name")
	flag.Float64Var(&o.depthScale, "depth-scale", frames.DefaultDepthScale, "meters per depth unit")
	flag.Float64Var(&o.minConfidence, "min-confidence", detector.DefaultMinConfidence, "")
	flag.StringVar(&o.dir, "dir", "", "recorded session directory")
	flag.StringVar(&o.detections, "detections", "", "recorded detections file")
	flag.StringVar(&o.save, "save", "", "run: directory to record into, props: component to save intrinsics on")
	flag.StringVar(&o.out, "out", "", "output file")
	flag.IntVar(&o.seq, "seq", 0, "recorded frame number")
	flag.IntVar(&o.x, "x", -1, "pixel x")
	flag.IntVar(&o.y, "y", -1, "pixel y")
	flag.IntVar(&o.numFrames, "frames", 0, "stop after this many frames, 0 runs until interrupted")
	flag.BoolVar(&o.loop, "loop", false, "replay: start over at the end")
	flag.Float64Var(&o.fps, "fps", 0, "replay: pace frames")
	flag.IntVar(&o.warmup, "warmup", 10, "frames to throw away at start")

	flag.Parse()

	switch *cmd {
	case "":
		return fmt.Errorf("need a cmd")
	case "run":
		return doRun(ctx, o, logger)
	case "replay":
		return doReplay(ctx, o, logger)
	case "props":
		return doProps(ctx, o, logger)
	case "depth":
		return doDepth(ctx, o, logger)
	case "overlay":
		return doOverlay(ctx, o, logger)
	}

	return fmt.Errorf("invalid command [%s]", *cmd)
}

func connect(ctx context.Context, o options, logger logging.Logger) (robot.Robot, resource.Dependencies, error) {
	machine, err := objlocate.Connect(ctx, o.host, logger)
	if err != nil {
		return nil, nil, err
	}
	deps, err := objlocate.MachineToDependencies(machine)
	if err != nil {
		return nil, nil, multierr.Combine(err, machine.Close(ctx))
	}
	return machine, deps, nil
}

func remoteDetector(deps resource.Dependencies, o options) (locate.Detector, error) {
	if o.visionName == "" {
		return nil, fmt.Errorf("need a vision service")
	}
	svc, err := vision.FromProvider(deps, o.visionName)
	if err != nil {
		return nil, err
	}
	return detector.NewVision(svc, o.minConfidence, nil), nil
}

// stopAfter cancels once n frames have been reported.
func stopAfter(n int, cancel context.CancelFunc) pipeline.Sink {
	return pipeline.SinkFunc(func(ctx context.Context, r pipeline.FrameReport) error {
		if n > 0 && r.Seq+1 >= n {
			cancel()
		}
		return nil
	})
}

func doRun(ctx context.Context, o options, logger logging.Logger) error {
	if o.cameraName == "" {
		return fmt.Errorf("need a camera")
	}

	machine, deps, err := connect(ctx, o, logger)
	if err != nil {
		return err
	}
	defer machine.Close(ctx)

	cam, err := camera.FromProvider(deps, o.cameraName)
	if err != nil {
		return err
	}

	det, err := remoteDetector(deps, o)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sinks := pipeline.Sinks{&pipeline.LogSink{Logger: logger}, stopAfter(o.numFrames, cancel)}

	var recording *detector.Recording
	if o.save != "" {
		recording = &detector.Recording{Detector: det}
		det = recording
		rec := &frames.Recorder{Dir: o.save}
		sinks = append(sinks, pipeline.SinkFunc(func(ctx context.Context, r pipeline.FrameReport) error {
			return rec.WriteFrame(r.Seq, r.Frame)
		}))
	}

	driver := &frames.CameraDriver{
		Camera:      cam,
		ColorSource: o.colorSource,
		DepthSource: o.depthSource,
		DepthScale:  o.depthScale,
		Logger:      logger,
	}

	cfg := frames.DefaultSourceConfig()
	cfg.Mode = frames.StreamMode{}
	cfg.WarmupFrames = o.warmup
	src := frames.NewSource(driver, cfg, logger)

	l := pipeline.NewLoop(src, det, sinks, logger)
	if err := l.Start(ctx); err != nil {
		return err
	}

	if o.save != "" {
		if err := (&frames.Recorder{Dir: o.save}).WriteCalibration(l.Calibration()); err != nil {
			return multierr.Combine(err, src.Stop(ctx))
		}
	}

	err = l.Serve(ctx)

	logger.Infof("stats: %+v", l.Stats().Summary())

	if recording != nil {
		// one entry per saved frame, misses never reach the detector
		err = multierr.Combine(err, recording.Save(filepath.Join(o.save, "detections.json")))
	}
	return err
}

func doReplay(ctx context.Context, o options, logger logging.Logger) error {
	if o.dir == "" {
		return fmt.Errorf("need a -dir")
	}

	var det locate.Detector
	if o.detections != "" {
		r, err := detector.ReadRecorded(o.detections)
		if err != nil {
			return err
		}
		det = r
	} else {
		machine, deps, err := connect(ctx, o, logger)
		if err != nil {
			return err
		}
		defer machine.Close(ctx)

		det, err = remoteDetector(deps, o)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := frames.DefaultSourceConfig()
	cfg.Mode = frames.StreamMode{}
	cfg.WarmupFrames = 0
	src := frames.NewSource(&frames.ReplayDriver{Dir: o.dir, Loop: o.loop, FPS: o.fps}, cfg, logger)

	l := pipeline.NewLoop(src, det, pipeline.Sinks{&pipeline.LogSink{Logger: logger}, stopAfter(o.numFrames, cancel)}, logger)
	err := l.Run(ctx)
	logger.Infof("stats: %+v", l.Stats().Summary())
	return err
}

func doProps(ctx context.Context, o options, logger logging.Logger) error {
	if o.cameraName == "" {
		return fmt.Errorf("need a camera")
	}

	machine, deps, err := connect(ctx, o, logger)
	if err != nil {
		return err
	}
	defer machine.Close(ctx)

	cam, err := camera.FromProvider(deps, o.cameraName)
	if err != nil {
		return err
	}

	props, err := cam.Properties(ctx)
	if err != nil {
		return err
	}
	logger.Infof("props - IntrinsicParams %T %v", props.IntrinsicParams, props.IntrinsicParams)
	logger.Infof("props - DistortionParams %T %v", props.DistortionParams, props.DistortionParams)

	in, err := realsense.FromProperties(props)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))

	if o.save == "" {
		return nil
	}

	var plain map[string]interface{}
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}

	err = objlocate.MergeAttributesFromModuleEnv(ctx, camera.Named(o.save), rutils.AttributeMap{"intrinsics": plain}, logger)
	if err != nil {
		return err
	}
	logger.Infof("saved intrinsics on %s", o.save)
	return nil
}

func readRecorded(ctx context.Context, o options) (frames.Calibration, *frames.Frame, error) {
	if o.dir == "" {
		return frames.Calibration{}, nil, fmt.Errorf("need a -dir")
	}

	cal, err := frames.ReadCalibration(o.dir)
	if err != nil {
		return frames.Calibration{}, nil, err
	}

	sess, err := (&frames.ReplayDriver{Dir: o.dir}).Open(ctx, frames.StreamMode{})
	if err != nil {
		return frames.Calibration{}, nil, err
	}
	defer sess.Stop(ctx)

	var f *frames.Frame
	for i := 0; i <= o.seq; i++ {
		f, err = sess.Read(ctx)
		if err != nil {
			return frames.Calibration{}, nil, fmt.Errorf("frame %d: %w", i, err)
		}
	}

	img, dm, err := frames.GridAligner{}.Align(f.Color, f.Depth)
	if err != nil {
		return frames.Calibration{}, nil, err
	}
	f.Color, f.Depth = img, dm

	return cal, f, nil
}

func doDepth(ctx context.Context, o options, logger logging.Logger) error {
	cal, f, err := readRecorded(ctx, o)
	if err != nil {
		return err
	}

	z, ok := depth.Sample(f.Depth, o.x, o.y, cal.DepthScale)
	if !ok {
		logger.Infof("no depth at (%d, %d)", o.x, o.y)
		return nil
	}

	p := depth.Deproject(cal.Intrinsics, o.x, o.y, z)
	logger.Infof("(%d, %d) depth: %0.3fm point: (%0.3f, %0.3f, %0.3f)", o.x, o.y, z, p.X, p.Y, p.Z)
	return nil
}

func doOverlay(ctx context.Context, o options, logger logging.Logger) error {
	if o.out == "" {
		return fmt.Errorf("need an out")
	}
	if o.detections == "" {
		return fmt.Errorf("need -detections")
	}

	cal, f, err := readRecorded(ctx, o)
	if err != nil {
		return err
	}

	rec, err := detector.ReadRecorded(o.detections)
	if err != nil {
		return err
	}

	var dets []locate.Detection
	for i := 0; i <= o.seq; i++ {
		dets, err = rec.Detect(ctx, f.Color)
		if err != nil {
			return err
		}
	}

	results := locate.LocalizeAll(dets, f.Depth, cal.Intrinsics, cal.DepthScale)
	for _, r := range results {
		logger.Infof("%s", r.Label())
	}

	return rimage.WriteImageToFile(o.out, overlay.Render(f.Color, results))
}
