// Package render turns a world into frames and runs the painter goroutine.
package render

import (
	"image"
	"image/color"
	"math"
	"strings"
	"unicode"

	"github.com/microworld/stage/internal/transport"
	"github.com/microworld/stage/internal/world"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Canvas renders worlds. It keeps its scratch image between calls and is not
// safe for concurrent use.
type Canvas struct {
	img  *image.RGBA
	face font.Face
}

func NewCanvas() *Canvas {
	return &Canvas{face: basicfont.Face7x13}
}

// Paint renders w into dst and stamps the paint sequence of every actor
// drawn. The caller holds the world read lock.
func (c *Canvas) Paint(w *world.World, dst *transport.Frame) {
	pw, ph := w.PixelWidth(), w.PixelHeight()
	bounds := image.Rect(0, 0, pw, ph)
	if c.img == nil || c.img.Bounds() != bounds {
		c.img = image.NewRGBA(bounds)
	}

	c.background(w)
	actors := w.PaintOrder()
	cell := w.CellSize()
	for _, a := range actors {
		if img := a.Image(); img != nil {
			c.actor(img, a.X()*cell+cell/2, a.Y()*cell+cell/2, a.Rotation())
		}
	}
	w.StampPaint(actors)
	for _, l := range w.Labels() {
		c.label(l, cell)
	}
	toARGB(c.img, dst)
}

func (c *Canvas) background(w *world.World) {
	b := c.img.Bounds()
	draw.Draw(c.img, b, image.NewUniform(w.Background()), image.Point{}, draw.Src)
	tile := w.BackgroundImage()
	if tile == nil {
		return
	}
	tb := tile.Bounds()
	if tb.Empty() {
		return
	}
	for y := 0; y < b.Dy(); y += tb.Dy() {
		for x := 0; x < b.Dx(); x += tb.Dx() {
			r := image.Rect(x, y, x+tb.Dx(), y+tb.Dy())
			draw.Draw(c.img, r, tile, tb.Min, draw.Over)
		}
	}
}

// actor draws img centred on (cx, cy), rotated clockwise by deg.
func (c *Canvas) actor(img image.Image, cx, cy, deg int) {
	sb := img.Bounds()
	if deg == 0 {
		at := image.Pt(cx-sb.Dx()/2, cy-sb.Dy()/2)
		draw.Draw(c.img, image.Rectangle{Min: at, Max: at.Add(sb.Size())}, img, sb.Min, draw.Over)
		return
	}
	rad := float64(deg) * math.Pi / 180
	sin, cos := math.Sincos(rad)
	hw, hh := float64(sb.Dx())/2+float64(sb.Min.X), float64(sb.Dy())/2+float64(sb.Min.Y)
	m := f64.Aff3{
		cos, -sin, float64(cx) - cos*hw + sin*hh,
		sin, cos, float64(cy) - sin*hw - cos*hh,
	}
	draw.BiLinear.Transform(c.img, m, img, sb, draw.Over, nil)
}

func (c *Canvas) label(l world.Label, cell int) {
	lines := strings.Split(fontSafe(l.Text), "\n")
	metrics := c.face.Metrics()
	lineH := metrics.Height.Ceil()
	cx := l.X*cell + cell/2
	top := l.Y*cell + cell/2 - lineH*len(lines)/2
	d := &font.Drawer{Dst: c.img, Src: image.NewUniform(l.Color), Face: c.face}
	for i, line := range lines {
		width := d.MeasureString(line).Ceil()
		d.Dot = fixed.P(cx-width/2, top+i*lineH+metrics.Ascent.Ceil())
		d.DrawString(line)
	}
}

// fontSafe folds text onto the printable ASCII range the bitmap face covers:
// accents are stripped and anything else becomes '?'.
func fontSafe(s string) string {
	t := transform.Chain(
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Map(func(r rune) rune {
			if r == '\n' || (r >= 0x20 && r <= 0x7e) {
				return r
			}
			return '?'
		}),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func toARGB(img *image.RGBA, dst *transport.Frame) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst.Width, dst.Height = w, h
	if cap(dst.Pix) < w*h {
		dst.Pix = make([]uint32, w*h)
	}
	dst.Pix = dst.Pix[:w*h]
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		out := dst.Pix[y*w : (y+1)*w]
		for x := range out {
			p := row[x*4 : x*4+4]
			out[x] = uint32(p[3])<<24 | uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
		}
	}
}

// ARGB converts a colour to a premultiplied ARGB word.
func ARGB(c color.Color) uint32 {
	r, g, b, a := c.RGBA()
	return (a>>8)<<24 | (r>>8)<<16 | (g>>8)<<8 | b>>8
}
