package daemonrun

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"tsmill/internal/daemon"
	"tsmill/internal/logging"
	"tsmill/internal/testsupport"
)

// blockingEncoder holds every encode until released or killed.
type blockingEncoder struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingEncoder) Encode(ctx context.Context, _, output string) error {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return os.WriteFile(output, []byte("encoded"), 0o644)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func startDaemon(t *testing.T, enc *blockingEncoder) (*daemon.Daemon, string) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithHistoryDisabled())
	cfg.Watch.PollInterval = 1
	cfg.Watch.SettlePolls = 0
	d, err := daemon.New(cfg, logging.NewNop(), daemon.WithEncoder(enc))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	testsupport.WriteFile(t, filepath.Join(cfg.Paths.InputDir, "clip.ts"), 32)
	select {
	case <-enc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("encoder never started")
	}
	return d, filepath.Join(cfg.Paths.OutputDir, "clip.mp4")
}

func TestServeFirstSignalFinishesInFlightFile(t *testing.T) {
	enc := &blockingEncoder{started: make(chan struct{}, 1), release: make(chan struct{})}
	d, output := startDaemon(t, enc)

	signals := make(chan os.Signal, 2)
	done := make(chan error, 1)
	go func() { done <- serve(d, signals, logging.NewNop()) }()

	signals <- syscall.SIGTERM
	select {
	case <-done:
		t.Fatal("serve returned before the in-flight file finished")
	case <-time.After(100 * time.Millisecond):
	}
	close(enc.release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after the file finished")
	}
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("expected output after graceful stop: %v", err)
	}
}

func TestServeSecondSignalAborts(t *testing.T) {
	enc := &blockingEncoder{started: make(chan struct{}, 1), release: make(chan struct{})}
	d, output := startDaemon(t, enc)

	signals := make(chan os.Signal, 2)
	done := make(chan error, 1)
	go func() { done <- serve(d, signals, logging.NewNop()) }()

	signals <- syscall.SIGINT
	signals <- syscall.SIGINT

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after abort")
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Fatal("aborted conversion must not publish output")
	}
}

func TestAttrKey(t *testing.T) {
	if got := attrKey("Encoder h264_nvenc"); got != "encoder_h264_nvenc" {
		t.Fatalf("attrKey = %q", got)
	}
}
