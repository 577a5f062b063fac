package training

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tsawler/go-trainloop/layers"
)

// TestDefaultPlottingServiceConfig tests the default configuration
func TestDefaultPlottingServiceConfig(t *testing.T) {
	config := DefaultPlottingServiceConfig()

	if config.BaseURL != "http://localhost:8080" {
		t.Errorf("Expected BaseURL http://localhost:8080, got %s", config.BaseURL)
	}
	if config.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", config.Timeout)
	}
	if config.RetryAttempts != 3 {
		t.Errorf("Expected retry attempts 3, got %d", config.RetryAttempts)
	}
}

// TestPlottingServiceEnableDisable tests enable/disable functionality
func TestPlottingServiceEnableDisable(t *testing.T) {
	ps := NewPlottingService(DefaultPlottingServiceConfig())

	if ps.IsEnabled() {
		t.Error("Service should be disabled initially")
	}
	ps.Enable()
	if !ps.IsEnabled() {
		t.Error("Service should be enabled after Enable()")
	}
	ps.Disable()
	if ps.IsEnabled() {
		t.Error("Service should be disabled after Disable()")
	}
}

func testPlot() PlotData {
	return PlotData{
		PlotType:  TrainingCurves,
		Title:     "Test Plot",
		Timestamp: time.Now(),
		ModelName: "TestModel",
		Series:    []SeriesData{{Name: "test", Type: "line", Data: []DataPoint{{X: 1, Y: 2}}}},
	}
}

func newTestService(url string) *PlottingService {
	config := DefaultPlottingServiceConfig()
	config.BaseURL = url
	config.RetryDelay = time.Millisecond
	ps := NewPlottingService(config)
	ps.Enable()
	return ps
}

// TestSendPlotDataDisabled tests behavior when service is disabled
func TestSendPlotDataDisabled(t *testing.T) {
	ps := NewPlottingService(DefaultPlottingServiceConfig())

	resp, err := ps.SendPlotData(testPlot())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if resp.Success {
		t.Error("Expected success to be false when service is disabled")
	}
	if resp.Message != "Plotting service is disabled" {
		t.Errorf("Expected disabled message, got: %s", resp.Message)
	}
}

// TestSendPlotDataSuccess tests successful plot data sending
func TestSendPlotDataSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/api/plot" {
			t.Errorf("Expected path /api/plot, got %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("Failed to read request body: %v", err)
		}
		var received PlotData
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("Failed to unmarshal plot data: %v", err)
		}
		if received.PlotType != TrainingCurves {
			t.Errorf("Expected plot type %s, got %s", TrainingCurves, received.PlotType)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(PlottingResponse{
			Success: true,
			Message: "Plot generated successfully",
			PlotID:  "plot_123",
		})
	}))
	defer server.Close()

	resp, err := newTestService(server.URL).SendPlotData(testPlot())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !resp.Success {
		t.Error("Expected success to be true")
	}
	if resp.PlotID != "plot_123" {
		t.Errorf("Expected plot ID plot_123, got %s", resp.PlotID)
	}
}

// TestSendPlotDataHTTPError tests handling of HTTP errors
func TestSendPlotDataHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(PlottingResponse{Success: false, Message: "boom"})
	}))
	defer server.Close()

	resp, err := newTestService(server.URL).SendPlotData(testPlot())
	if err == nil {
		t.Fatal("Expected error for HTTP 500")
	}
	if !strings.Contains(err.Error(), "500") || resp == nil || resp.Message != "boom" {
		t.Errorf("Expected status and message in error, got %v (resp %+v)", err, resp)
	}
}

// TestSendPlotDataWithRetry tests that transient failures are retried
func TestSendPlotDataWithRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(PlottingResponse{Message: "busy"})
			return
		}
		json.NewEncoder(w).Encode(PlottingResponse{Success: true})
	}))
	defer server.Close()

	resp, err := newTestService(server.URL).SendPlotDataWithRetry(testPlot())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !resp.Success {
		t.Error("Expected success after retries")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestBatchSendPlots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/batch-plot" {
			t.Errorf("Expected path /api/batch-plot, got %s", r.URL.Path)
		}
		var payload struct {
			Plots []PlotData `json:"plots"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("Failed to decode batch payload: %v", err)
		}
		results := make([]BatchPlotResult, len(payload.Plots))
		for i := range results {
			results[i] = BatchPlotResult{Success: true}
		}
		json.NewEncoder(w).Encode(BatchPlottingResponse{Success: true, Results: results})
	}))
	defer server.Close()

	resp, err := newTestService(server.URL).BatchSendPlots([]PlotData{testPlot(), testPlot()})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(resp.Results))
	}
}

func TestCheckHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ps := newTestService(server.URL)
	if err := ps.CheckHealth(); err != nil {
		t.Errorf("Expected healthy service, got %v", err)
	}

	ps.Disable()
	if err := ps.CheckHealth(); err == nil {
		t.Error("Expected error when service is disabled")
	}
}

func TestSidecarVisualizer(t *testing.T) {
	var received PlotData
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Failed to decode plot: %v", err)
		}
		json.NewEncoder(w).Encode(PlottingResponse{Success: true})
	}))
	defer server.Close()

	snapshot := []layers.ParameterSnapshot{
		{Name: "fc1.weight", Rows: 4, Cols: 4, Data: make([]float64, 16)},
	}

	viz := NewSidecarVisualizer(newTestService(server.URL), "MLP", "fc1.weight", nil, 2, 2)
	if err := viz.Visualize(3, snapshot); err != nil {
		t.Fatalf("Visualize failed: %v", err)
	}
	if received.PlotType != WeightGrid {
		t.Errorf("Expected plot type %s, got %s", WeightGrid, received.PlotType)
	}
	if !strings.Contains(received.Title, "epoch 3") {
		t.Errorf("Expected epoch in title, got %q", received.Title)
	}

	missing := NewSidecarVisualizer(newTestService(server.URL), "MLP", "fc9.weight", nil, 0, 0)
	if err := missing.Visualize(1, snapshot); err == nil {
		t.Error("Expected error for unknown parameter")
	}
}
