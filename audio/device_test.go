package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

type stubDevice struct {
	opened int
	err    error
}

func (d *stubDevice) Open(ctx context.Context) (Capture, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.opened++
	return &stubCapture{}, nil
}

type stubCapture struct {
	stopped bool
	closed  bool
}

func (c *stubCapture) Stop() (Source, error) {
	c.stopped = true
	return Source{Data: []byte("audio"), MediaType: RecordingMediaType}, nil
}

func (c *stubCapture) Close() error {
	c.closed = true
	return nil
}

func TestExclusive_SecondOpenFails(t *testing.T) {
	dev := Exclusive(&stubDevice{})

	first, err := dev.Open(context.Background())
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	if _, err := dev.Open(context.Background()); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}

	if _, err := first.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	second, err := dev.Open(context.Background())
	if err != nil {
		t.Fatalf("Open after Stop failed: %v", err)
	}
	second.Close()

	if _, err := dev.Open(context.Background()); err != nil {
		t.Errorf("Open after Close failed: %v", err)
	}
}

func TestExclusive_FailedOpenReleases(t *testing.T) {
	inner := &stubDevice{err: errors.New("permission denied")}
	dev := Exclusive(inner)

	if _, err := dev.Open(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	inner.err = nil
	if _, err := dev.Open(context.Background()); err != nil {
		t.Errorf("expected device to be released after failed open, got %v", err)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFFmpegDevice_MissingBinary(t *testing.T) {
	dev := NewFFmpegDevice(FFmpegConfig{
		Binary: filepath.Join(t.TempDir(), "no-such-ffmpeg"),
		Format: "pulse",
		Input:  "default",
	})

	if _, err := dev.Open(context.Background()); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestFFmpegDevice_InputUnavailable(t *testing.T) {
	bin := writeScript(t, "echo 'default: No such device' >&2\nexit 1\n")
	dev := NewFFmpegDevice(FFmpegConfig{Binary: bin, Format: "pulse", Input: "default"})

	_, err := dev.Open(context.Background())
	if err == nil {
		t.Fatal("expected error when ffmpeg exits immediately")
	}
}

func TestFFmpegDevice_RecordAndStop(t *testing.T) {
	bin := writeScript(t, "trap 'printf tail; exit 0' INT\nprintf head\nwhile true; do sleep 0.05; done\n")
	dev := NewFFmpegDevice(FFmpegConfig{Binary: bin, Format: "pulse", Input: "default"})

	c, err := dev.Open(context.Background())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	src, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if string(src.Data) != "headtail" {
		t.Errorf("expected 'headtail', got %q", src.Data)
	}
	if src.MediaType != RecordingMediaType {
		t.Errorf("expected %s, got %s", RecordingMediaType, src.MediaType)
	}

	if _, err := c.Stop(); err == nil {
		t.Error("expected second Stop to fail")
	}
}
