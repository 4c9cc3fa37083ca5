// Package synthetic generates scanner data for running the console without
// a device: a scrolling sine-wave point cloud plus matching telemetry.
package synthetic

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/banshee-data/lidar.console/internal/pointcloud/wire"
)

// Generator produces synthetic PointCloud2 frames.
type Generator struct {
	frameID atomic.Uint64
	startNs int64

	// Configuration
	PointsPerFrame int
	Mode           wire.ColorMode
	Amplitude      float64 // metres, peak of the y/z wave
	Frequency      float64 // radians per metre along x
	Spacing        float64 // metres between consecutive points along x
	Noise          float64 // metres of uniform jitter per axis
	BigEndian      bool

	rng *rand.Rand
}

// NewGenerator returns a generator emitting coloured frames of
// pointsPerFrame points.
func NewGenerator(pointsPerFrame int) *Generator {
	if pointsPerFrame <= 0 {
		pointsPerFrame = 1000
	}
	return &Generator{
		startNs:        time.Now().UnixNano(),
		PointsPerFrame: pointsPerFrame,
		Mode:           wire.ColorRGB,
		Amplitude:      5.0,
		Frequency:      0.1,
		Spacing:        0.1,
		Noise:          0.05,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed makes the generated jitter reproducible.
func (g *Generator) Seed(seed int64) {
	g.rng = rand.New(rand.NewSource(seed))
}

// FrameCount returns how many frames have been generated.
func (g *Generator) FrameCount() uint64 {
	return g.frameID.Load()
}

// NextFrame generates the next frame. Each frame continues the wave where
// the previous one stopped so the cloud sweeps forward along x.
func (g *Generator) NextFrame() *wire.RawFrame {
	frameID := g.frameID.Add(1)
	base := int(frameID-1) * g.PointsPerFrame

	points := make([]wire.Point, g.PointsPerFrame)
	for i := range points {
		x, y, z := g.waveAt(base + i)
		points[i] = wire.Point{
			X: float32(x + g.jitter()),
			Y: float32(y + g.jitter()),
			Z: float32(z + g.jitter()),
		}

		// Height gradient from blue (low) to red (high)
		h := (y + g.Amplitude) / (2 * g.Amplitude)
		if g.Amplitude == 0 {
			h = 0.5
		}
		r := uint8(math.Floor(255 * h))
		b := uint8(math.Floor(255 * (1 - h)))
		points[i].RGB = wire.PackRGB(r, 0, b)
		points[i].Intensity = float32(math.Floor(255 * h))
	}
	return wire.Encode(points, g.Mode, g.BigEndian)
}

func (g *Generator) waveAt(i int) (x, y, z float64) {
	x = float64(i) * g.Spacing
	y = math.Sin(x*g.Frequency) * g.Amplitude
	z = math.Cos(x*g.Frequency) * g.Amplitude
	return x, y, z
}

func (g *Generator) jitter() float64 {
	if g.Noise == 0 {
		return 0
	}
	return (g.rng.Float64()*2 - 1) * g.Noise
}

// PoseAt returns the scanner position at the head of the sweep after
// frames frames, following the same wave as the cloud.
func (g *Generator) PoseAt(frames uint64) (x, y, z float64) {
	return g.waveAt(int(frames) * g.PointsPerFrame)
}

// Elapsed returns time since the generator was created.
func (g *Generator) Elapsed() time.Duration {
	return time.Duration(time.Now().UnixNano() - g.startNs)
}
