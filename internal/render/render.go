// Package render draws challenge text into a distorted PNG image.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand/v2"

	"github.com/disintegration/imaging"
	logger "github.com/soulteary/logger-kit"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	MinDifficulty = 0
	MaxDifficulty = 5

	// DefaultDifficulty and DefaultLength are used when callers pass nothing better.
	DefaultDifficulty = 3
	DefaultLength     = 5

	scale   = 5
	padding = 2
)

// level describes the noise applied at one difficulty.
type level struct {
	lines, lineWidth         int
	ellipses, minRad, maxRad int
	noise, noiseSize         int
	hAmp, hFreq, vAmp, vFreq float64
	blur                     float64
}

var levels = [MaxDifficulty + 1]level{
	{hAmp: 10, hFreq: 10, vAmp: 5, vFreq: 20},
	{lines: 5, lineWidth: 3, hAmp: 10, hFreq: 15, vAmp: 5, vFreq: 20},
	{lines: 5, lineWidth: 2, ellipses: 1, minRad: 20, maxRad: 40, hAmp: 10, hFreq: 15, vAmp: 5, vFreq: 15},
	{lines: 3, lineWidth: 2, ellipses: 1, minRad: 20, maxRad: 50, noise: 100, noiseSize: 3, hAmp: 8, hFreq: 13, vAmp: 5, vFreq: 15},
	{lines: 5, lineWidth: 3, ellipses: 2, minRad: 20, maxRad: 40, noise: 100, noiseSize: 3, hAmp: 8, hFreq: 13, vAmp: 5, vFreq: 15},
	{lines: 7, lineWidth: 4, ellipses: 1, minRad: 20, maxRad: 40, noise: 200, noiseSize: 3, hAmp: 8, hFreq: 10, vAmp: 5, vFreq: 10, blur: 0.6},
}

// PNGRenderer renders challenges as PNG bytes.
type PNGRenderer struct {
	log *logger.Logger
}

// New returns a PNGRenderer.
func New(log *logger.Logger) *PNGRenderer {
	return &PNGRenderer{log: log}
}

// ClampDifficulty limits d to [MinDifficulty, MaxDifficulty].
func ClampDifficulty(d int) int {
	return min(max(d, MinDifficulty), MaxDifficulty)
}

// Render draws text at the given difficulty and returns the encoded PNG.
func (r *PNGRenderer) Render(text string, difficulty int) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("render: empty text")
	}
	if d := ClampDifficulty(difficulty); d != difficulty {
		r.log.Debug().Int("difficulty", difficulty).Int("clamped", d).Msg("render: difficulty out of range")
		difficulty = d
	}
	lv := levels[difficulty]

	fg, bg := color.NRGBA{A: 0xff}, color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	if rand.IntN(2) == 0 {
		fg, bg = bg, fg
	}

	img := drawText(text, fg, bg)
	img = deform(img, lv, bg)

	for i := 0; i < lv.lines; i++ {
		b := img.Bounds()
		drawLine(img,
			rand.IntN(b.Dx()), rand.IntN(b.Dy()),
			rand.IntN(b.Dx()), rand.IntN(b.Dy()),
			lv.lineWidth, fg)
	}
	for i := 0; i < lv.ellipses; i++ {
		invertEllipse(img, lv.minRad, lv.maxRad)
	}
	for i := 0; i < lv.noise; i++ {
		b := img.Bounds()
		fillRect(img, rand.IntN(b.Dx()), rand.IntN(b.Dy()), lv.noiseSize, fg)
	}
	if lv.blur > 0 {
		img = imaging.Blur(img, lv.blur)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("render: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func drawText(text string, fg, bg color.NRGBA) *image.NRGBA {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil() + 2*padding
	h := face.Height + 2*padding
	small := imaging.New(w, h, bg)
	d := &font.Drawer{
		Dst:  small,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(padding, padding+face.Ascent),
	}
	d.DrawString(text)
	return imaging.Resize(small, w*scale, h*scale, imaging.Lanczos)
}

// deform applies a sine displacement on both axes and adds room for the amplitude.
func deform(src *image.NRGBA, lv level, bg color.NRGBA) *image.NRGBA {
	sb := src.Bounds()
	mx, my := int(lv.vAmp), int(lv.hAmp)
	dst := imaging.New(sb.Dx()+2*mx, sb.Dy()+2*my, bg)
	phase := rand.Float64() * 5
	for y := 0; y < dst.Bounds().Dy(); y++ {
		for x := 0; x < dst.Bounds().Dx(); x++ {
			sx := x - mx + int(math.Sin(float64(y)/lv.vFreq+phase)*lv.vAmp)
			sy := y - my + int(math.Sin(float64(x)/lv.hFreq+phase)*lv.hAmp)
			if sx < 0 || sy < 0 || sx >= sb.Dx() || sy >= sb.Dy() {
				continue
			}
			dst.SetNRGBA(x, y, src.NRGBAAt(sx, sy))
		}
	}
	return dst
}

func fillRect(img *image.NRGBA, x, y, size int, c color.NRGBA) {
	half := size / 2
	r := image.Rect(x-half, y-half, x-half+size, y-half+size).Intersect(img.Bounds())
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func drawLine(img *image.NRGBA, x0, y0, x1, y1, width int, c color.NRGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	e := dx + dy
	for {
		fillRect(img, x0, y0, width, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x0 += sx
		}
		if e2 <= dx {
			e += dx
			y0 += sy
		}
	}
}

// invertEllipse inverts every pixel inside a random ellipse, keeping glyphs readable on both schemes.
func invertEllipse(img *image.NRGBA, minRad, maxRad int) {
	b := img.Bounds()
	rx := minRad + rand.IntN(maxRad-minRad+1)
	ry := minRad + rand.IntN(maxRad-minRad+1)
	cx := rand.IntN(max(b.Dx(), 1))
	cy := rand.IntN(max(b.Dy(), 1))
	for y := max(cy-ry, 0); y < min(cy+ry, b.Dy()); y++ {
		for x := max(cx-rx, 0); x < min(cx+rx, b.Dx()); x++ {
			nx := float64(x-cx) / float64(rx)
			ny := float64(y-cy) / float64(ry)
			if nx*nx+ny*ny > 1 {
				continue
			}
			p := img.NRGBAAt(x, y)
			img.SetNRGBA(x, y, color.NRGBA{R: 0xff - p.R, G: 0xff - p.G, B: 0xff - p.B, A: p.A})
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
