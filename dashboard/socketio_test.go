package dashboard

import (
	"context"
	"math"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/tsawler/go-trainloop/training"
)

type emitted struct {
	Event   string
	Payload map[string]any
}

func recordingSink(runID string) (*SocketIOSink, *[]emitted) {
	var events []emitted
	sink := newSink(func(event string, payload map[string]any) {
		events = append(events, emitted{event, payload})
	}, runID, nil)
	return sink, &events
}

func TestSocketIOSinkEmitsProgress(t *testing.T) {
	sink, events := recordingSink("run-1")

	sink.StartEpoch(2, 5, 3)
	sink.UpdateBatch(1, 0.5)
	sink.FinishEpoch(2, 0.25)

	want := []emitted{
		{EventEpochStart, map[string]any{"run_id": "run-1", "epoch": 2, "total_epochs": 5, "batches": 3}},
		{EventBatch, map[string]any{"run_id": "run-1", "epoch": 2, "batch": 1, "running_loss": 0.5}},
		{EventEpochEnd, map[string]any{"run_id": "run-1", "epoch": 2, "loss": 0.25}},
	}
	if diff := cmp.Diff(want, *events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestSocketIOSinkDropsNonFiniteValues(t *testing.T) {
	sink, events := recordingSink("")

	sink.UpdateBatch(1, math.NaN())
	sink.FinishEpoch(1, math.Inf(1))

	want := []emitted{
		{EventBatch, map[string]any{"epoch": 0, "batch": 1, "running_loss": nil}},
		{EventEpochEnd, map[string]any{"epoch": 1, "loss": nil}},
	}
	if diff := cmp.Diff(want, *events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestSocketIOSinkInMultiProgress(t *testing.T) {
	sink, events := recordingSink("run-2")
	mp := training.MultiProgress{sink}

	mp.StartEpoch(1, 1, 2)
	mp.UpdateBatch(1, 1.0)
	mp.UpdateBatch(2, 2.0)
	mp.FinishEpoch(1, 1.5)

	var names []string
	for _, e := range *events {
		names = append(names, e.Event)
	}
	if diff := cmp.Diff([]string{"epoch_start", "batch", "batch", "epoch_end"}, names); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	sink, _ := recordingSink("")
	sink.Close()
	sink.Close()
}

func TestDialFailsWithoutServer(t *testing.T) {
	srv := httptest.NewServer(nil)
	addr := srv.URL
	srv.Close()

	_, err := Dial(context.Background(), Config{
		URL:     addr + "/socket.io/",
		Timeout: 500 * time.Millisecond,
	}, nil)
	if err == nil {
		t.Fatal("expected an error when nothing is listening")
	}
}

func TestDialRejectsBadURL(t *testing.T) {
	if _, err := Dial(context.Background(), Config{URL: "://bad"}, nil); err == nil {
		t.Error("expected an error for an unparsable URL")
	}
}
