package pipeline

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/erh/objlocate/locate"
)

const latencyWindow = 256

// Stats counts what the loop has done. Safe for concurrent use.
type Stats struct {
	mu sync.Mutex

	frames         int
	misses         int
	frameErrors    int
	detectorErrors int
	detections     int
	localized      int
	sized          int

	latencies []float64 // ms, ring buffer
	next      int
}

func NewStats() *Stats {
	return &Stats{latencies: make([]float64, 0, latencyWindow)}
}

func (s *Stats) miss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses++
}

func (s *Stats) frameError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameErrors++
}

func (s *Stats) detectorError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectorErrors++
}

func (s *Stats) frame(results []locate.Result, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	s.detections += len(results)
	for _, r := range results {
		if r.Position != nil {
			s.localized++
		}
		if r.Size != nil {
			s.sized++
		}
	}

	ms := float64(latency) / float64(time.Millisecond)
	if len(s.latencies) < latencyWindow {
		s.latencies = append(s.latencies, ms)
	} else {
		s.latencies[s.next] = ms
	}
	s.next = (s.next + 1) % latencyWindow
}

// Summary is a point in time copy of Stats.
type Summary struct {
	Frames         int     `json:"frames"`
	Misses         int     `json:"misses"`
	FrameErrors    int     `json:"frame_errors"`
	DetectorErrors int     `json:"detector_errors"`
	Detections     int     `json:"detections"`
	Localized      int     `json:"localized"`
	Sized          int     `json:"sized"`
	LatencyMeanMs  float64 `json:"latency_mean_ms"`
	LatencyStdMs   float64 `json:"latency_stddev_ms"`
	LatencyP95Ms   float64 `json:"latency_p95_ms"`
}

func (s *Stats) Summary() Summary {
	s.mu.Lock()
	sum := Summary{
		Frames:         s.frames,
		Misses:         s.misses,
		FrameErrors:    s.frameErrors,
		DetectorErrors: s.detectorErrors,
		Detections:     s.detections,
		Localized:      s.localized,
		Sized:          s.sized,
	}
	lat := append([]float64(nil), s.latencies...)
	s.mu.Unlock()

	switch len(lat) {
	case 0:
	case 1:
		sum.LatencyMeanMs = lat[0]
		sum.LatencyP95Ms = lat[0]
	default:
		sort.Float64s(lat)
		sum.LatencyMeanMs, sum.LatencyStdMs = stat.MeanStdDev(lat, nil)
		sum.LatencyP95Ms = stat.Quantile(.95, stat.Empirical, lat, nil)
	}

	return sum
}

// ToMap is the DoCommand form of the summary.
func (s Summary) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"frames":            s.Frames,
		"misses":            s.Misses,
		"frame_errors":      s.FrameErrors,
		"detector_errors":   s.DetectorErrors,
		"detections":        s.Detections,
		"localized":         s.Localized,
		"sized":             s.Sized,
		"latency_mean_ms":   s.LatencyMeanMs,
		"latency_stddev_ms": s.LatencyStdMs,
		"latency_p95_ms":    s.LatencyP95Ms,
	}
}
