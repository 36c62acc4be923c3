package monitor

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/pillars.detect/internal/detect/geom"
	sqlite "github.com/banshee-data/pillars.detect/internal/detect/storage/sqlite"
	"github.com/banshee-data/pillars.detect/internal/security"
)

// BEVPlotter renders stored detections as bird's-eye-view PNG files.
// Each run gets a timestamped file under the output directory with box
// footprints drawn as rotated outlines, one color per class.
type BEVPlotter struct {
	outputDir string
}

// NewBEVPlotter creates a plotter writing under outputDir.
func NewBEVPlotter(outputDir string) *BEVPlotter {
	return &BEVPlotter{outputDir: outputDir}
}

// RenderRun draws every detection of a run and writes the plot to
// <outputDir>/<runID>/bev_<timestamp>.png, returning the written path.
func (bp *BEVPlotter) RenderRun(runID string, dets []sqlite.Detection) (string, error) {
	if bp.outputDir == "" {
		return "", fmt.Errorf("no output directory configured")
	}

	// Run IDs arrive from the HTTP layer, so only a sanitized form
	// touches the filesystem.
	dir := filepath.Join(bp.outputDir, security.SanitizeFilename(runID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %s - Detections (BEV)", runID)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	// Group detections by class for per-class colors and legend entries
	byClass := make(map[int][]sqlite.Detection)
	for _, d := range dets {
		byClass[d.Label] = append(byClass[d.Label], d)
	}

	var labels []int
	for label := range byClass {
		labels = append(labels, label)
	}
	sort.Ints(labels)

	colors := generateColors(len(labels))

	maxAbs := 0.0
	for i, label := range labels {
		classDets := byClass[label]

		centers := make(plotter.XYs, 0, len(classDets))
		for _, d := range classDets {
			centers = append(centers, plotter.XY{X: d.X, Y: d.Y})

			// Rotated footprint outline, closed back to the first corner
			corners := geom.BEVBox{
				X:      float32(d.X),
				Y:      float32(d.Y),
				Length: float32(d.Length),
				Width:  float32(d.Width),
				Yaw:    float32(d.Yaw),
			}.Corners()

			outline := make(plotter.XYs, 0, 5)
			for _, c := range corners {
				cx, cy := float64(c.X), float64(c.Y)
				if math.Abs(cx) > maxAbs {
					maxAbs = math.Abs(cx)
				}
				if math.Abs(cy) > maxAbs {
					maxAbs = math.Abs(cy)
				}
				outline = append(outline, plotter.XY{X: cx, Y: cy})
			}
			outline = append(outline, outline[0])

			line, err := plotter.NewLine(outline)
			if err != nil {
				return "", fmt.Errorf("class %d outline: %w", label, err)
			}
			line.Color = colors[i]
			line.Width = vg.Points(1)
			p.Add(line)
		}

		scatter, err := plotter.NewScatter(centers)
		if err != nil {
			return "", fmt.Errorf("class %d centers: %w", label, err)
		}
		scatter.GlyphStyle.Color = colors[i]
		scatter.GlyphStyle.Radius = vg.Points(2)
		p.Add(scatter)
		p.Legend.Add(fmt.Sprintf("class %d", label), scatter)
	}

	// Symmetric axis ranges keep the ground plane square
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	p.X.Min = -pad
	p.X.Max = pad
	p.Y.Min = -pad
	p.Y.Max = pad

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	outFile := filepath.Join(dir, fmt.Sprintf("bev_%s.png", FormatTimestamp(time.Now())))
	if err := p.Save(10*vg.Inch, 10*vg.Inch, outFile); err != nil {
		return "", fmt.Errorf("save bev plot: %w", err)
	}

	return outFile, nil
}

// generateColors creates a palette of distinct colors for class outlines
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// FormatTimestamp generates a timestamp string for snapshot file naming.
func FormatTimestamp(t time.Time) string {
	return t.Format("20060102_150405")
}
