package recognition

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recognizer.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecRecognizerStreamsResults(t *testing.T) {
	script := writeScript(t, `printf '{"interim":["hel"]}\n'
printf '{"final":["%s"]}\n' "$*"
printf '{"error":"network"}\n'
`)
	rec, err := NewExecRecognizer(script, newLogger())
	if err != nil {
		t.Fatalf("NewExecRecognizer: %v", err)
	}

	results := make(chan Result, 4)
	faults := make(chan string, 1)
	ended := make(chan struct{}, 1)
	rec.Configure(Settings{Language: "ja-JP", Continuous: true, InterimResults: true})
	rec.SetHandlers(Handlers{
		OnResult: func(r Result) { results <- r },
		OnError:  func(kind string) { faults <- kind },
		OnEnd:    func() { ended <- struct{}{} },
	})
	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first := waitFor(t, results)
	if len(first.Interim) != 1 || first.Interim[0] != "hel" {
		t.Fatalf("unexpected interim %+v", first)
	}
	second := waitFor(t, results)
	if len(second.Final) != 1 || second.Final[0] != "--language ja-JP --continuous --interim" {
		t.Fatalf("unexpected final %+v", second)
	}
	if kind := waitFor(t, faults); kind != "network" {
		t.Fatalf("unexpected fault %q", kind)
	}
	waitFor(t, ended)

	if err := rec.Start(); err != nil {
		t.Fatalf("restart after natural end: %v", err)
	}
	_ = rec.Stop()
}

func TestExecRecognizerStopSuppressesEnd(t *testing.T) {
	script := writeScript(t, "exec sleep 30\n")
	rec, err := NewExecRecognizer(script, newLogger())
	if err != nil {
		t.Fatalf("NewExecRecognizer: %v", err)
	}
	ended := make(chan struct{}, 1)
	rec.SetHandlers(Handlers{OnEnd: func() { ended <- struct{}{} }})

	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := rec.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-ended:
		t.Fatal("explicit stop must not report an end event")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestExecRecognizerRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecRecognizer("   ", newLogger()); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for recognizer callback")
	}
	var zero T
	return zero
}
