package main

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/microworld/stage/internal/transport"
)

// snapshotter saves every nth consumed frame as a PNG.
type snapshotter struct {
	dir   string
	every int
	log   *zap.Logger

	seen  int
	saved int
}

func newSnapshotter(dir string, every int, log *zap.Logger) *snapshotter {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Warn("snapshots disabled", zap.Error(err))
			dir = ""
		}
	}
	return &snapshotter{dir: dir, every: max(every, 1), log: log.Named("snapshot")}
}

// Frame is the viewer's frame callback.
func (s *snapshotter) Frame(f *transport.Frame) {
	s.seen++
	if s.dir == "" || s.seen%s.every != 0 {
		return
	}
	path := filepath.Join(s.dir, fmt.Sprintf("frame-%06d.png", s.seen))
	if err := writePNG(path, toImage(f)); err != nil {
		s.log.Warn("save frame", zap.Error(err))
		return
	}
	s.saved++
	s.log.Debug("frame saved", zap.String("path", path))
}

// toImage converts premultiplied ARGB words, which is also what image.RGBA
// holds.
func toImage(f *transport.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, p := range f.Pix[:f.Width*f.Height] {
		o := i * 4
		img.Pix[o] = uint8(p >> 16)
		img.Pix[o+1] = uint8(p >> 8)
		img.Pix[o+2] = uint8(p)
		img.Pix[o+3] = uint8(p >> 24)
	}
	return img
}

func writePNG(path string, img image.Image) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
