package media

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/disintegration/imaging"
)

// Normalizer re-encodes photos to bound their transfer size.  Images are
// fitted inside MaxEdge×MaxEdge (never upscaled) and written as JPEG,
// lowering the quality until the result fits TargetBytes or MinQuality is
// reached.
type Normalizer struct {
	MaxEdge     int
	TargetBytes int
	Quality     int
	MinQuality  int
	Logger      *slog.Logger
}

// NewNormalizer returns a Normalizer with the capsule defaults: 1280px
// longest edge, 0.5 MB target.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		MaxEdge:     1280,
		TargetBytes: 512 * 1024,
		Quality:     82,
		MinQuality:  50,
		Logger:      logger.With("component", "media.normalizer"),
	}
}

// Normalize returns the re-encoded JPEG for p.
func (n *Normalizer) Normalize(p Photo) (Photo, error) {
	img, err := imaging.Decode(bytes.NewReader(p.Data), imaging.AutoOrientation(true))
	if err != nil {
		return Photo{}, fmt.Errorf("decode %s: %w", p.Name, err)
	}
	img = imaging.Fit(img, n.MaxEdge, n.MaxEdge, imaging.Lanczos)

	var buf bytes.Buffer
	for q := n.Quality; ; q -= 8 {
		if q < n.MinQuality {
			q = n.MinQuality
		}
		buf.Reset()
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(q)); err != nil {
			return Photo{}, fmt.Errorf("encode %s: %w", p.Name, err)
		}
		if buf.Len() <= n.TargetBytes || q == n.MinQuality {
			break
		}
	}
	return Photo{
		Name:        jpegName(p.Name),
		ContentType: "image/jpeg",
		Data:        append([]byte(nil), buf.Bytes()...),
	}, nil
}

// NormalizeAll normalizes each photo independently.  A photo that fails to
// re-encode is kept as uploaded and its index reported; the others are not
// affected.
func (n *Normalizer) NormalizeAll(photos []Photo) ([]Photo, []int) {
	out := make([]Photo, len(photos))
	var failed []int
	for i, p := range photos {
		np, err := n.Normalize(p)
		if err != nil {
			n.Logger.Warn("photo kept without re-encoding", "index", i, "name", p.Name, "error", err)
			out[i] = p
			failed = append(failed, i)
			continue
		}
		out[i] = np
	}
	return out, failed
}

func jpegName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i] + ".jpg"
		}
		if name[i] == '/' {
			break
		}
	}
	if name == "" {
		return "photo.jpg"
	}
	return name + ".jpg"
}
