package localizer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erh/objlocate/detector"
	"github.com/erh/objlocate/frames"
	"github.com/erh/objlocate/pipeline"
	"github.com/erh/objlocate/realsense"
)

type Config struct {
	Camera string `json:"camera"`
	Vision string `json:"vision"`

	ColorSource string  `json:"color_source,omitempty"`
	DepthSource string  `json:"depth_source,omitempty"`
	DepthScale  float64 `json:"depth_scale,omitempty"`

	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
	FPS    int `json:"fps,omitempty"`

	WarmupFrames     *int    `json:"warmup_frames,omitempty"`
	SettleThreshold  float64 `json:"settle_threshold,omitempty"`
	MaxSettleFrames  int     `json:"max_settle_frames,omitempty"`
	FrameTimeoutSec  float64 `json:"frame_timeout_sec,omitempty"`
	LoopDelayMs      *int    `json:"loop_delay_ms,omitempty"`
	DetectTimeoutSec float64 `json:"detect_timeout_sec,omitempty"`

	MinConfidence float64  `json:"min_confidence,omitempty"`
	Labels        []string `json:"labels,omitempty"`

	Intrinsics *realsense.Intrinsics `json:"intrinsics,omitempty"`

	// IntrinsicExtrinsic registers depth to color when the camera doesn't: color and depth
	// pinhole intrinsics plus the depth to color rotation and translation.
	IntrinsicExtrinsic map[string]interface{} `json:"intrinsic_extrinsic,omitempty"`

	LogResults bool `json:"log_results,omitempty"`
}

func (c *Config) Validate(path string) ([]string, []string, error) {
	if c.Camera == "" {
		return nil, nil, fmt.Errorf("need a camera")
	}
	if c.Vision == "" {
		return nil, nil, fmt.Errorf("need a vision service")
	}
	if (c.Width == 0) != (c.Height == 0) {
		return nil, nil, fmt.Errorf("width and height go together")
	}
	if c.Width < 0 || c.Height < 0 || c.FPS < 0 {
		return nil, nil, fmt.Errorf("bad stream mode %dx%d@%d", c.Width, c.Height, c.FPS)
	}
	if c.DepthScale < 0 {
		return nil, nil, fmt.Errorf("depth_scale can't be negative")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return nil, nil, fmt.Errorf("min_confidence has to be between 0 and 1, not %v", c.MinConfidence)
	}
	if c.WarmupFrames != nil && *c.WarmupFrames < 0 {
		return nil, nil, fmt.Errorf("warmup_frames can't be negative")
	}
	if c.SettleThreshold < 0 || c.MaxSettleFrames < 0 {
		return nil, nil, fmt.Errorf("bad exposure settle settings")
	}
	if c.FrameTimeoutSec < 0 || c.DetectTimeoutSec < 0 {
		return nil, nil, fmt.Errorf("timeouts can't be negative")
	}
	if c.Intrinsics != nil {
		if err := c.Intrinsics.Validate(); err != nil {
			return nil, nil, fmt.Errorf("bad intrinsics: %w", err)
		}
	}
	if _, err := c.aligner(); err != nil {
		return nil, nil, err
	}
	return []string{c.Camera, c.Vision}, nil, nil
}

func (c *Config) aligner() (frames.Aligner, error) {
	if len(c.IntrinsicExtrinsic) == 0 {
		return frames.GridAligner{}, nil
	}
	data, err := json.Marshal(c.IntrinsicExtrinsic)
	if err != nil {
		return nil, err
	}
	return frames.NewTransformAligner(data)
}

func (c *Config) sourceConfig() (frames.SourceConfig, error) {
	sc := frames.DefaultSourceConfig()
	sc.Mode = frames.StreamMode{Width: c.Width, Height: c.Height, FPS: c.FPS}
	if c.WarmupFrames != nil {
		sc.WarmupFrames = *c.WarmupFrames
	}
	sc.SettleThreshold = c.SettleThreshold
	sc.MaxSettleFrames = c.MaxSettleFrames
	if sc.SettleThreshold > 0 && sc.MaxSettleFrames == 0 {
		sc.MaxSettleFrames = 30
	}
	if c.FrameTimeoutSec > 0 {
		sc.FrameTimeout = time.Duration(c.FrameTimeoutSec * float64(time.Second))
	}
	a, err := c.aligner()
	if err != nil {
		return frames.SourceConfig{}, err
	}
	sc.Aligner = a
	return sc, nil
}

func (c *Config) loopDelay() time.Duration {
	if c.LoopDelayMs == nil {
		return pipeline.DefaultLoopDelay
	}
	return time.Duration(*c.LoopDelayMs) * time.Millisecond
}

func (c *Config) detectTimeout() time.Duration {
	if c.DetectTimeoutSec == 0 {
		return pipeline.DefaultDetectTimeout
	}
	return time.Duration(c.DetectTimeoutSec * float64(time.Second))
}

func (c *Config) minConfidence() float64 {
	if c.MinConfidence == 0 {
		return detector.DefaultMinConfidence
	}
	return c.MinConfidence
}
