package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	chunkSize    = 32 * 1024
	startupGrace = 500 * time.Millisecond
	stopTimeout  = 5 * time.Second

	// RecordingMediaType is what FFmpegDevice produces.
	RecordingMediaType = "audio/webm"
)

// FFmpegConfig selects the ffmpeg input used for capture.
type FFmpegConfig struct {
	Binary string // defaults to "ffmpeg"
	Format string // input format, e.g. "avfoundation", "pulse", "alsa", "dshow"
	Input  string // input device, e.g. ":default" or "default"
}

// FFmpegDevice records the microphone by running ffmpeg and reading
// Opus-in-WebM from its stdout.
type FFmpegDevice struct {
	cfg FFmpegConfig
}

func NewFFmpegDevice(cfg FFmpegConfig) *FFmpegDevice {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	return &FFmpegDevice{cfg: cfg}
}

// Check reports whether the ffmpeg binary can be found.
func (d *FFmpegDevice) Check() error {
	if _, err := exec.LookPath(d.cfg.Binary); err != nil {
		return fmt.Errorf("ffmpeg not found (%s): %w", d.cfg.Binary, err)
	}
	return nil
}

func (d *FFmpegDevice) args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", d.cfg.Format,
		"-i", d.cfg.Input,
		"-ac", "1",
		"-ar", "48000",
		"-c:a", "libopus",
		"-f", "webm",
		"pipe:1",
	}
}

// Open starts ffmpeg. A process that exits during the first moments means
// the input could not be opened: permission denied or no such device.
func (d *FFmpegDevice) Open(ctx context.Context) (Capture, error) {
	if err := d.Check(); err != nil {
		return nil, err
	}
	if d.cfg.Format == "" || d.cfg.Input == "" {
		return nil, errors.New("capture input not configured")
	}

	// Not tied to ctx: the capture outlives the request that opened it.
	cmd := exec.Command(d.cfg.Binary, d.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	c := &ffmpegCapture{
		cmd:    cmd,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	go c.readLoop(stdout)

	select {
	case <-c.done:
		err := cmd.Wait()
		return nil, fmt.Errorf("ffmpeg exited: %v: %s", err, strings.TrimSpace(stderr.String()))
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	case <-time.After(startupGrace):
	}

	slog.Debug("capture started", "format", d.cfg.Format, "input", d.cfg.Input, "pid", cmd.Process.Pid)
	return c, nil
}

type ffmpegCapture struct {
	cmd    *exec.Cmd
	stderr *tailBuffer

	mu      sync.Mutex
	chunks  [][]byte
	readErr error
	done    chan struct{}

	stopOnce sync.Once
}

func (c *ffmpegCapture) readLoop(r io.Reader) {
	defer close(c.done)
	for {
		buf := make([]byte, chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.chunks = append(c.chunks, buf[:n])
			c.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
			}
			return
		}
	}
}

// Stop asks ffmpeg to finish the container, waits for the remaining output
// and joins the chunks.
func (c *ffmpegCapture) Stop() (Source, error) {
	var src Source
	err := errors.New("capture already released")
	c.stopOnce.Do(func() {
		src, err = c.finish()
	})
	return src, err
}

func (c *ffmpegCapture) finish() (Source, error) {
	if err := c.cmd.Process.Signal(os.Interrupt); err != nil {
		slog.Debug("interrupt ffmpeg failed", "error", err)
	}

	select {
	case <-c.done:
	case <-time.After(stopTimeout):
		c.cmd.Process.Kill()
		<-c.done
	}
	c.cmd.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return Source{}, fmt.Errorf("read capture: %w", c.readErr)
	}
	data := bytes.Join(c.chunks, nil)
	if len(data) == 0 {
		return Source{}, fmt.Errorf("capture produced no audio: %s", strings.TrimSpace(c.stderr.String()))
	}
	c.chunks = nil
	return Source{Data: data, MediaType: RecordingMediaType}, nil
}

func (c *ffmpegCapture) Close() error {
	c.stopOnce.Do(func() {
		c.cmd.Process.Kill()
		<-c.done
		c.cmd.Wait()
		c.mu.Lock()
		c.chunks = nil
		c.mu.Unlock()
	})
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
