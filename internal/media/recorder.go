package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// DefaultMaxClipBytes bounds a single voice recording.
const DefaultMaxClipBytes = 10 << 20

// ChunkSource yields the encoded chunks of a live capture session.  Next
// returns io.EOF once the device has no more data.
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Device opens a capture session.  Open fails when access is denied or the
// device is absent.
type Device interface {
	Open(ctx context.Context) (ChunkSource, error)
}

// RecorderState is either idle or recording.
type RecorderState int

const (
	Idle RecorderState = iota
	Recording
)

func (s RecorderState) String() string {
	if s == Recording {
		return "recording"
	}
	return "idle"
}

// Clip is a finished recording.
type Clip struct {
	ContentType string
	Data        []byte
}

// Recorder captures one voice clip at a time: Start moves it from idle to
// recording, Stop concatenates the buffered chunks and returns it to idle.
type Recorder struct {
	Device       Device
	ContentType  string // defaults to audio/webm
	MaxClipBytes int    // defaults to DefaultMaxClipBytes

	mu     sync.Mutex
	state  RecorderState
	src    ChunkSource
	chunks [][]byte
	size   int
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// State returns the current state.
func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens the device and begins buffering chunks in the background.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Recording {
		return ErrAlreadyRecording
	}
	if r.Device == nil {
		return ErrDeviceUnavailable
	}
	src, err := r.Device.Open(ctx)
	if err != nil {
		return errors.Join(ErrDeviceUnavailable, err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.src = src
	r.chunks = nil
	r.size = 0
	r.err = nil
	r.done = make(chan struct{})
	r.cancel = cancel
	r.state = Recording
	go r.pump(runCtx, src, r.done)
	return nil
}

func (r *Recorder) pump(ctx context.Context, src ChunkSource, done chan struct{}) {
	defer close(done)
	limit := r.MaxClipBytes
	if limit <= 0 {
		limit = DefaultMaxClipBytes
	}
	for {
		chunk, err := src.Next(ctx)
		if len(chunk) > 0 {
			r.mu.Lock()
			if r.size+len(chunk) > limit {
				r.err = ErrClipTooLarge
				r.mu.Unlock()
				return
			}
			r.chunks = append(r.chunks, append([]byte(nil), chunk...))
			r.size += len(chunk)
			r.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				r.mu.Lock()
				r.err = err
				r.mu.Unlock()
			}
			return
		}
	}
}

// Stop ends the session and returns the concatenated clip.  Chunks the
// device already delivered are kept; the device is closed either way.
func (r *Recorder) Stop() (Clip, error) {
	r.mu.Lock()
	if r.state != Recording {
		r.mu.Unlock()
		return Clip{}, ErrNotRecording
	}
	src, done, cancel := r.src, r.done, r.cancel
	r.mu.Unlock()

	closeErr := src.Close()
	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = Idle
	r.src = nil
	if r.err != nil {
		return Clip{}, r.err
	}
	if closeErr != nil {
		return Clip{}, closeErr
	}
	ct := r.ContentType
	if ct == "" {
		ct = "audio/webm"
	}
	clip := Clip{ContentType: ct, Data: bytes.Join(r.chunks, nil)}
	r.chunks = nil
	return clip, nil
}

// Wait blocks until the device reports end of stream or ctx is done.  A
// recording fed by a finite source (an uploaded set of chunks) uses it
// before Stop so no chunk is cut off.
func (r *Recorder) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	recording := r.state == Recording
	r.mu.Unlock()
	if !recording {
		return ErrNotRecording
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StaticDevice replays a fixed list of chunks, as posted by a browser
// MediaRecorder.  An empty device is unavailable.
type StaticDevice struct {
	Chunks [][]byte
}

func (d StaticDevice) Open(context.Context) (ChunkSource, error) {
	if len(d.Chunks) == 0 {
		return nil, errors.New("no audio chunks provided")
	}
	return &staticSource{chunks: d.Chunks}, nil
}

type staticSource struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool
}

func (s *staticSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *staticSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// RecordAll runs a full start/wait/stop cycle against a finite device.
func RecordAll(ctx context.Context, r *Recorder) (Clip, error) {
	if err := r.Start(ctx); err != nil {
		return Clip{}, err
	}
	if err := r.Wait(ctx); err != nil {
		_, _ = r.Stop()
		return Clip{}, err
	}
	return r.Stop()
}
