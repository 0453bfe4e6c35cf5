// Package localizer is a camera that shows where detected objects are. Its images are the
// color stream with the detections drawn on, and its point cloud holds one point per
// localized object.
package localizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"time"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/data"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/services/vision"
	"go.viam.com/rdk/spatialmath"
	rutils "go.viam.com/rdk/utils"
	"go.viam.com/utils"

	"github.com/erh/objlocate"
	"github.com/erh/objlocate/detector"
	"github.com/erh/objlocate/frames"
	"github.com/erh/objlocate/overlay"
	"github.com/erh/objlocate/pipeline"
)

var Model = objlocate.NamespaceFamily.WithModel("object-localizer")

const (
	overlaySource = "overlay"
	colorSource   = "color"
)

var errNoResults = errors.New("no frame processed yet")

func init() {
	resource.RegisterComponent(
		camera.API,
		Model,
		resource.Registration[camera.Camera, *Config]{
			Constructor: newLocalizer,
		})
}

func newLocalizer(ctx context.Context, deps resource.Dependencies, config resource.Config, logger logging.Logger) (camera.Camera, error) {
	newConf, err := resource.NativeConfig[*Config](config)
	if err != nil {
		return nil, err
	}

	cam, err := camera.FromProvider(deps, newConf.Camera)
	if err != nil {
		return nil, err
	}

	svc, err := vision.FromProvider(deps, newConf.Vision)
	if err != nil {
		return nil, err
	}

	return NewLocalizer(ctx, config.ResourceName(), newConf, cam, svc, logger)
}

// NewLocalizer starts the camera session and the detection loop. It returns once warm up is
// done; any error starting the camera is returned.
func NewLocalizer(ctx context.Context, name resource.Name, cfg *Config, cam camera.Camera, svc vision.Service, logger logging.Logger) (*Localizer, error) {
	driver := &frames.CameraDriver{
		Camera:      cam,
		ColorSource: cfg.ColorSource,
		DepthSource: cfg.DepthSource,
		DepthScale:  cfg.DepthScale,
		Intrinsics:  cfg.Intrinsics,
		Logger:      logger,
	}

	l := &Localizer{
		name:   name,
		cfg:    cfg,
		logger: logger,
		latest: &pipeline.LatestSink{},
	}

	sc, err := cfg.sourceConfig()
	if err != nil {
		return nil, err
	}
	l.src = frames.NewSource(driver, sc, logger)

	sinks := pipeline.Sinks{l.latest}
	if cfg.LogResults {
		sinks = append(sinks, &pipeline.LogSink{Logger: logger})
	}

	det := detector.NewVision(svc, cfg.minConfidence(), cfg.Labels)

	l.loop = pipeline.NewLoop(l.src, det, sinks, logger)
	l.loop.LoopDelay = cfg.loopDelay()
	l.loop.DetectTimeout = cfg.detectTimeout()

	if err := l.loop.Start(ctx); err != nil {
		return nil, multierr.Combine(err, l.src.Stop(ctx))
	}

	l.workers = utils.NewBackgroundStoppableWorkers(func(ctx context.Context) {
		if err := l.loop.Serve(ctx); err != nil {
			logger.Errorf("localizer loop stopped: %v", err)
		}
	})

	return l, nil
}

type Localizer struct {
	resource.AlwaysRebuild

	name   resource.Name
	cfg    *Config
	logger logging.Logger

	src     *frames.Source
	loop    *pipeline.Loop
	latest  *pipeline.LatestSink
	workers *utils.StoppableWorkers
}

func (l *Localizer) Name() resource.Name {
	return l.name
}

// Latest returns the most recent frame's results.
func (l *Localizer) Latest() (pipeline.FrameReport, error) {
	r, ok := l.latest.Latest()
	if !ok {
		return pipeline.FrameReport{}, errNoResults
	}
	return r, nil
}

func (l *Localizer) Images(ctx context.Context, filterSourceNames []string, extra map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	r, err := l.Latest()
	if err != nil {
		return nil, resource.ResponseMetadata{}, err
	}

	want := func(s string) bool {
		if len(filterSourceNames) == 0 {
			return true
		}
		for _, f := range filterSourceNames {
			if f == s {
				return true
			}
		}
		return false
	}

	out := []camera.NamedImage{}

	if want(overlaySource) {
		start := time.Now()
		img := overlay.Render(r.Frame.Color, r.Results)
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			l.logger.Infof("overlay took %v", elapsed)
		}
		ni, err := camera.NamedImageFromImage(img, overlaySource, rutils.MimeTypeJPEG, data.Annotations{})
		if err != nil {
			return nil, resource.ResponseMetadata{}, err
		}
		out = append(out, ni)
	}

	if want(colorSource) {
		ni, err := camera.NamedImageFromImage(r.Frame.Color, colorSource, rutils.MimeTypeJPEG, data.Annotations{})
		if err != nil {
			return nil, resource.ResponseMetadata{}, err
		}
		out = append(out, ni)
	}

	return out, resource.ResponseMetadata{CapturedAt: r.CapturedAt}, nil
}

func (l *Localizer) Image(ctx context.Context, mimeType string, extra map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	r, err := l.Latest()
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	if mimeType == "" {
		mimeType = rutils.MimeTypeJPEG
	}

	encoded, err := rimage.EncodeImage(ctx, overlay.Render(r.Frame.Color, r.Results), mimeType)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	return encoded, camera.ImageMetadata{MimeType: mimeType}, nil
}

var centerColor = color.NRGBA{R: 255, A: 255}

// NextPointCloud has one point per localized object, in millimeters.
func (l *Localizer) NextPointCloud(ctx context.Context, extra map[string]interface{}) (pointcloud.PointCloud, error) {
	r, err := l.Latest()
	if err != nil {
		return nil, err
	}

	pc := pointcloud.NewBasicEmpty()
	for _, res := range r.Results {
		if res.Position == nil {
			continue
		}
		if err := pc.Set(toMM(*res.Position), pointcloud.NewColoredData(centerColor)); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func toMM(p r3.Vector) r3.Vector {
	return p.Mul(1000)
}

// Geometries puts a box around every object that has a size. Depth is not measured, so the
// box is as deep as its smaller face dimension.
func (l *Localizer) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	r, err := l.Latest()
	if err != nil {
		if errors.Is(err, errNoResults) {
			return nil, nil
		}
		return nil, err
	}

	geoms := []spatialmath.Geometry{}
	for _, res := range r.Results {
		if res.Position == nil || res.Size == nil {
			continue
		}
		w, h := res.Size.Width*1000, res.Size.Height*1000
		dims := r3.Vector{X: w, Y: h, Z: min(w, h)}
		if dims.X <= 0 || dims.Y <= 0 {
			continue
		}
		box, err := spatialmath.NewBox(spatialmath.NewPoseFromPoint(toMM(*res.Position)), dims, res.Detection.ClassName)
		if err != nil {
			return nil, err
		}
		geoms = append(geoms, box)
	}
	return geoms, nil
}

func (l *Localizer) Properties(ctx context.Context) (camera.Properties, error) {
	in, err := l.src.Intrinsics()
	if err != nil {
		return camera.Properties{}, err
	}
	return camera.Properties{
		SupportsPCD:      true,
		ImageType:        camera.ColorStream,
		IntrinsicParams:  in.Pinhole(),
		DistortionParams: in.Distorter(),
		MimeTypes:        []string{rutils.MimeTypeJPEG, rutils.MimeTypePNG},
	}, nil
}

func (l *Localizer) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	if cmd["latest"] == true {
		r, err := l.Latest()
		if err != nil {
			return nil, err
		}
		results, err := toPlain(r.Results)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"seq":         r.Seq,
			"captured_at": r.CapturedAt.Format(time.RFC3339Nano),
			"latency_ms":  float64(r.Latency) / float64(time.Millisecond),
			"results":     results,
		}, nil
	}

	if cmd["stats"] == true {
		return l.loop.Stats().Summary().ToMap(), nil
	}

	if cmd["save_intrinsics"] == true {
		in, err := l.src.Intrinsics()
		if err != nil {
			return nil, err
		}
		plain, err := toPlain(in)
		if err != nil {
			return nil, err
		}
		attrs := rutils.AttributeMap{"intrinsics": plain}
		if err := objlocate.MergeAttributesFromModuleEnv(ctx, l.name, attrs, l.logger); err != nil {
			return nil, err
		}
		return attrs, nil
	}

	return nil, fmt.Errorf("unknown command %v", cmd)
}

// toPlain turns x into maps and slices so it can go back over the wire.
func toPlain(x interface{}) (interface{}, error) {
	b, err := json.Marshal(x)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Localizer) Close(ctx context.Context) error {
	l.workers.Stop()
	return l.src.Stop(ctx)
}
