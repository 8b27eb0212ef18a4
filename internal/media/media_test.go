package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestSelectionRejectsFourthPhotoWithoutMutation(t *testing.T) {
	var s Selection
	if err := s.Add(Photo{Name: "a"}, Photo{Name: "b"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(Photo{Name: "c"}, Photo{Name: "d"}); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("selection mutated: len=%d", s.Len())
	}
	if err := s.Add(Photo{Name: "c"}); err != nil {
		t.Fatalf("third photo: %v", err)
	}
	if err := s.Add(Photo{Name: "d"}); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded on 4th, got %v", err)
	}
	names := ""
	for _, p := range s.Photos() {
		names += p.Name
	}
	if names != "abc" {
		t.Fatalf("order = %q, want abc", names)
	}
}

func TestSelectionRemove(t *testing.T) {
	var s Selection
	_ = s.Add(Photo{Name: "a"}, Photo{Name: "b"}, Photo{Name: "c"})
	s.Remove(1)
	s.Remove(9)
	got := s.Photos()
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "c" {
		t.Fatalf("unexpected selection after remove: %+v", got)
	}
}

type deniedDevice struct{}

func (deniedDevice) Open(context.Context) (ChunkSource, error) {
	return nil, errors.New("permission denied")
}

func TestRecorderDeviceUnavailableStaysIdle(t *testing.T) {
	r := &Recorder{Device: deniedDevice{}}
	err := r.Start(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if r.State() != Idle {
		t.Fatalf("state = %s, want idle", r.State())
	}
}

func TestRecorderConcatenatesChunks(t *testing.T) {
	r := &Recorder{Device: StaticDevice{Chunks: [][]byte{[]byte("ab"), []byte("cd"), []byte("e")}}}
	clip, err := RecordAll(context.Background(), r)
	if err != nil {
		t.Fatalf("RecordAll: %v", err)
	}
	if string(clip.Data) != "abcde" {
		t.Fatalf("clip = %q, want abcde", clip.Data)
	}
	if clip.ContentType != "audio/webm" {
		t.Fatalf("content type = %q", clip.ContentType)
	}
	if r.State() != Idle {
		t.Fatalf("state after stop = %s", r.State())
	}
}

func TestRecorderStateErrors(t *testing.T) {
	r := &Recorder{Device: StaticDevice{Chunks: [][]byte{[]byte("x")}}}
	if _, err := r.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Stop on idle: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second Start: %v", err)
	}
	if _, err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestRecorderClipLimit(t *testing.T) {
	r := &Recorder{
		Device:       StaticDevice{Chunks: [][]byte{[]byte("1234"), []byte("5678")}},
		MaxClipBytes: 6,
	}
	if _, err := RecordAll(context.Background(), r); !errors.Is(err, ErrClipTooLarge) {
		t.Fatalf("expected ErrClipTooLarge, got %v", err)
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestNormalizeResizesLongestEdge(t *testing.T) {
	n := NewNormalizer(nil)
	n.MaxEdge = 100

	out, err := n.Normalize(Photo{Name: "holiday.png", Data: pngBytes(t, 400, 200)})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if out.ContentType != "image/jpeg" || out.Name != "holiday.jpg" {
		t.Fatalf("unexpected output meta: %q %q", out.Name, out.ContentType)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if cfg.Width != 100 || cfg.Height != 50 {
		t.Fatalf("size = %dx%d, want 100x50", cfg.Width, cfg.Height)
	}
}

func TestNormalizeAllKeepsFailedPhoto(t *testing.T) {
	n := NewNormalizer(nil)
	broken := Photo{Name: "broken.jpg", ContentType: "image/jpeg", Data: []byte("not an image")}
	good := Photo{Name: "good.png", Data: pngBytes(t, 20, 20)}

	out, failed := n.NormalizeAll([]Photo{broken, good})
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	if len(failed) != 1 || failed[0] != 0 {
		t.Fatalf("failed = %v, want [0]", failed)
	}
	if !bytes.Equal(out[0].Data, broken.Data) {
		t.Fatal("failed photo must keep its original bytes")
	}
	if out[1].ContentType != "image/jpeg" {
		t.Fatal("good photo must be re-encoded")
	}
}
