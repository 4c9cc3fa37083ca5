package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"net/http"
	"strconv"

	"github.com/banshee-data/lidar.console/internal/httputil"
	"github.com/banshee-data/lidar.console/internal/pointcloud/render"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

const (
	echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

	defaultChartPoints = 8000
	defaultPNGPoints   = 50000
	maxQueryPoints     = 300000
)

// samplePoint is one point of a downsampled frame.
type samplePoint struct {
	x, y, z float64
	c       color.RGBA
}

// sampleFrame downsamples f by stride to at most maxPoints finite points.
func sampleFrame(f render.Frame, maxPoints int) ([]samplePoint, int) {
	n := f.PointCount()
	stride := 1
	if maxPoints > 0 && n > maxPoints {
		stride = int(math.Ceil(float64(n) / float64(maxPoints)))
	}
	coloured := len(f.Colors) >= 3*n

	out := make([]samplePoint, 0, n/stride+1)
	for i := 0; i < n; i += stride {
		x, y, z := float64(f.Points[3*i]), float64(f.Points[3*i+1]), float64(f.Points[3*i+2])
		if !finite(x) || !finite(y) || !finite(z) {
			continue
		}
		p := samplePoint{x: x, y: y, z: z, c: color.RGBA{R: 255, G: 255, B: 255, A: 255}}
		if coloured {
			p.c = color.RGBA{
				R: channel(f.Colors[3*i]),
				G: channel(f.Colors[3*i+1]),
				B: channel(f.Colors[3*i+2]),
				A: 255,
			}
		}
		out = append(out, p)
	}
	return out, stride
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func channel(v float32) uint8 {
	switch {
	case v <= 0 || v != v:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

// maxPointsParam reads the max_points query parameter, falling back to def
// when it is absent or out of range.
func maxPointsParam(r *http.Request, def int) int {
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 0 && v <= maxQueryPoints {
			return v
		}
	}
	return def
}

// latestFrame returns the surface's current frame, writing an error response
// when there is none to render.
func (ws *WebServer) latestFrame(w http.ResponseWriter) (render.Frame, bool) {
	if ws.points == nil {
		httputil.ServiceUnavailable(w, "point cloud viewer not configured")
		return render.Frame{}, false
	}
	f, ok := ws.points.Surface().Latest()
	if !ok || f.PointCount() == 0 {
		httputil.NotFound(w, "no point cloud frame available")
		return render.Frame{}, false
	}
	return f, true
}

// handleSnapshotPNG renders a top-down (x/y) view of the current point
// window as PNG.
// Query params:
//   - max_points (optional; default 50000)
//   - size (optional; image edge in inches, default 8)
func (ws *WebServer) handleSnapshotPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	f, ok := ws.latestFrame(w)
	if !ok {
		return
	}

	size := 8.0
	if s := r.URL.Query().Get("size"); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil && v >= 2 && v <= 20 {
			size = v
		}
	}

	pts, stride := sampleFrame(f, maxPointsParam(r, defaultPNGPoints))
	if len(pts) == 0 {
		httputil.NotFound(w, "no finite points in frame")
		return
	}

	xys := make(plotter.XYs, len(pts))
	for i, p := range pts {
		xys[i].X, xys[i].Y = p.x, p.y
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Point cloud v%d (%d points, stride %d)", f.Version, len(pts), stride)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build scatter: %v", err))
		return
	}
	radius := vg.Points(1)
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{Color: pts[i].c, Radius: radius, Shape: draw.CircleGlyph{}}
	}
	p.Add(scatter)

	wt, err := p.WriterTo(vg.Length(size)*vg.Inch, vg.Length(size)*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to encode png: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// handleSnapshotChart renders the current point window as an interactive
// echarts scatter (HTML), coloured by height.
// Query params:
//   - max_points (optional; default 8000) to reduce payload size
func (ws *WebServer) handleSnapshotChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	f, ok := ws.latestFrame(w)
	if !ok {
		return
	}

	pts, stride := sampleFrame(f, maxPointsParam(r, defaultChartPoints))
	if len(pts) == 0 {
		httputil.NotFound(w, "no finite points in frame")
		return
	}

	data := make([]opts.ScatterData, 0, len(pts))
	maxAbs := 0.0
	minZ, maxZ := math.Inf(1), math.Inf(-1)
	for _, p := range pts {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(p.x), math.Abs(p.y)))
		minZ = math.Min(minZ, p.z)
		maxZ = math.Max(maxZ, p.z)
		data = append(data, opts.ScatterData{Value: []interface{}{p.x, p.y, p.z}})
	}

	// Square plot with symmetric axes and a little padding.
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxZ <= minZ {
		maxZ = minZ + 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "LiDAR Point Cloud", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "LiDAR Point Cloud", Subtitle: fmt.Sprintf("version=%d points=%d stride=%d", f.Version, len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(minZ),
			Max:        float32(maxZ),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#00007f", "#0000ff", "#007fff", "#00ffff", "#7fff7f", "#ffff00", "#ff7f00", "#ff0000", "#7f0000"}},
		}),
	)

	scatter.AddSeries("points", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
