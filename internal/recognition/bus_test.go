package recognition

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/bus"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/natsserver"
	"github.com/loqalabs/loqa-interpreter/internal/protocol"
	"github.com/nats-io/nats.go"
)

func startTestBus(t *testing.T) *bus.Client {
	t.Helper()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start embedded nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestBusRecognizerRoundTrip(t *testing.T) {
	client := startTestBus(t)
	conn := client.Conn()

	controls := make(chan protocol.RecognitionControl, 2)
	sub, err := conn.Subscribe(protocol.SubjectRecognitionStart, func(msg *nats.Msg) {
		var ctrl protocol.RecognitionControl
		if json.Unmarshal(msg.Data, &ctrl) == nil {
			controls <- ctrl
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := conn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	rec := NewBusRecognizer(client, newLogger())
	results := make(chan Result, 4)
	faults := make(chan string, 1)
	ended := make(chan struct{}, 1)
	rec.Configure(Settings{Language: "en-US", Continuous: true, InterimResults: true})
	rec.SetHandlers(Handlers{
		OnResult: func(r Result) { results <- r },
		OnError:  func(kind string) { faults <- kind },
		OnEnd:    func() { ended <- struct{}{} },
	})
	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctrl := waitFor(t, controls)
	if ctrl.Language != "en-US" || ctrl.SessionID == "" {
		t.Fatalf("unexpected control %+v", ctrl)
	}

	publish := func(subject string, v any) {
		t.Helper()
		if err := client.PublishJSON(subject, v); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	publish(protocol.SubjectTranscriptPartial, protocol.Transcript{SessionID: "other", Text: "stale", Partial: true})
	publish(protocol.SubjectTranscriptPartial, protocol.Transcript{SessionID: ctrl.SessionID, Text: "hel", Partial: true})
	if r := waitFor(t, results); len(r.Interim) != 1 || r.Interim[0] != "hel" {
		t.Fatalf("unexpected interim %+v", r)
	}
	publish(protocol.SubjectTranscriptFinal, protocol.Transcript{SessionID: ctrl.SessionID, Text: "hello"})
	if r := waitFor(t, results); len(r.Final) != 1 || r.Final[0] != "hello" {
		t.Fatalf("unexpected final %+v", r)
	}
	publish(protocol.SubjectRecognitionError, protocol.RecognitionFault{SessionID: ctrl.SessionID, Error: "no-speech"})
	if kind := waitFor(t, faults); kind != "no-speech" {
		t.Fatalf("unexpected fault %q", kind)
	}
	publish(protocol.SubjectRecognitionEnd, protocol.RecognitionEnd{SessionID: ctrl.SessionID})
	waitFor(t, ended)

	if err := rec.Start(); err != nil {
		t.Fatalf("start after end: %v", err)
	}
	next := waitFor(t, controls)
	if next.SessionID == ctrl.SessionID {
		t.Fatal("each start should open a fresh session id")
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case r := <-results:
		t.Fatalf("unexpected result after stop: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}
