package training

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tsawler/go-trainloop/layers"
)

// PlottingService handles communication with the sidecar plotting application
type PlottingService struct {
	baseURL    string
	httpClient *http.Client
	config     PlottingServiceConfig
	enabled    bool
}

// PlottingServiceConfig contains configuration for the plotting service
type PlottingServiceConfig struct {
	BaseURL       string        `json:"base_url"`
	Timeout       time.Duration `json:"timeout"`
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
}

// PlottingResponse represents the response from the plotting service
type PlottingResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	PlotURL   string `json:"plot_url,omitempty"`
	ViewURL   string `json:"view_url,omitempty"`
	PlotID    string `json:"plot_id,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// BatchPlottingResponse represents the response from the batch plotting endpoint
type BatchPlottingResponse struct {
	Success      bool              `json:"success"`
	Message      string            `json:"message"`
	BatchID      string            `json:"batch_id,omitempty"`
	Results      []BatchPlotResult `json:"results,omitempty"`
	DashboardURL string            `json:"dashboard_url,omitempty"`
}

// BatchPlotResult represents a single plot result within a batch response
type BatchPlotResult struct {
	Success  bool   `json:"success"`
	PlotID   string `json:"plot_id,omitempty"`
	PlotType string `json:"plot_type,omitempty"`
	Message  string `json:"message,omitempty"`
}

// DefaultPlottingServiceConfig returns default configuration for the plotting service
func DefaultPlottingServiceConfig() PlottingServiceConfig {
	return PlottingServiceConfig{
		BaseURL:       "http://localhost:8080",
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
	}
}

// NewPlottingService creates a new plotting service client
func NewPlottingService(config PlottingServiceConfig) *PlottingService {
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	return &PlottingService{
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		config:  config,
		enabled: false,
	}
}

// Enable enables the plotting service
func (ps *PlottingService) Enable() {
	ps.enabled = true
}

// Disable disables the plotting service
func (ps *PlottingService) Disable() {
	ps.enabled = false
}

// IsEnabled returns whether the plotting service is enabled
func (ps *PlottingService) IsEnabled() bool {
	return ps.enabled
}

// BaseURL returns the sidecar address.
func (ps *PlottingService) BaseURL() string {
	return ps.baseURL
}

// SendPlotData sends plot data to the sidecar plotting service
func (ps *PlottingService) SendPlotData(plotData PlotData) (*PlottingResponse, error) {
	if !ps.enabled {
		return &PlottingResponse{
			Success: false,
			Message: "Plotting service is disabled",
		}, nil
	}

	var plotResponse PlottingResponse
	status, err := ps.postJSON("/api/plot", plotData, &plotResponse)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return &plotResponse, fmt.Errorf("HTTP request failed with status %d: %s", status, plotResponse.Message)
	}

	return &plotResponse, nil
}

// SendPlotDataWithRetry sends plot data, retrying with the configured attempts and delay
func (ps *PlottingService) SendPlotDataWithRetry(plotData PlotData) (*PlottingResponse, error) {
	var lastErr error

	for attempt := 0; attempt < ps.config.RetryAttempts; attempt++ {
		resp, err := ps.SendPlotData(plotData)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Wait before retry (except for the last attempt)
		if attempt < ps.config.RetryAttempts-1 {
			time.Sleep(ps.config.RetryDelay)
		}
	}

	return nil, fmt.Errorf("failed to send plot data after %d attempts: %w", ps.config.RetryAttempts, lastErr)
}

// BatchSendPlots sends multiple plots in a single request
func (ps *PlottingService) BatchSendPlots(plotDataList []PlotData) (*BatchPlottingResponse, error) {
	if !ps.enabled {
		return &BatchPlottingResponse{
			Success: false,
			Message: "Plotting service is disabled",
		}, nil
	}

	batchPayload := map[string]interface{}{
		"plots": plotDataList,
		"batch": true,
	}

	var batchResponse BatchPlottingResponse
	status, err := ps.postJSON("/api/batch-plot", batchPayload, &batchResponse)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return &batchResponse, fmt.Errorf("batch HTTP request failed with status %d: %s", status, batchResponse.Message)
	}

	return &batchResponse, nil
}

// CheckHealth checks if the plotting service is available
func (ps *PlottingService) CheckHealth() error {
	if !ps.enabled {
		return fmt.Errorf("plotting service is disabled")
	}

	resp, err := ps.httpClient.Get(ps.baseURL + "/health")
	if err != nil {
		return fmt.Errorf("failed to send health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}

	return nil
}

func (ps *PlottingService) postJSON(path string, payload, out interface{}) (int, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal plot data: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, ps.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "go-trainloop")

	resp, err := ps.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return resp.StatusCode, nil
}

// SidecarVisualizer sends a weight grid of one parameter to the plotting
// sidecar. It implements Visualizer.
type SidecarVisualizer struct {
	service   *PlottingService
	modelName string
	parameter string
	shape     []int
	height    int
	width     int
}

// NewSidecarVisualizer renders the parameter named parameter (for example
// "fc1.weight") as a height × width grid of tiles shaped like shape. See
// WeightGridPlot for the defaults of zero values.
func NewSidecarVisualizer(service *PlottingService, modelName, parameter string, shape []int, height, width int) *SidecarVisualizer {
	return &SidecarVisualizer{
		service:   service,
		modelName: modelName,
		parameter: parameter,
		shape:     shape,
		height:    height,
		width:     width,
	}
}

// Visualize implements Visualizer.
func (sv *SidecarVisualizer) Visualize(epoch int, snapshot []layers.ParameterSnapshot) error {
	for _, p := range snapshot {
		if p.Name != sv.parameter {
			continue
		}
		plot, err := WeightGridPlot(sv.modelName, p, sv.shape, sv.height, sv.width)
		if err != nil {
			return err
		}
		plot.Title = fmt.Sprintf("%s (epoch %d)", plot.Title, epoch)
		plot.Metrics = map[string]interface{}{"epoch": epoch}
		_, err = sv.service.SendPlotDataWithRetry(plot)
		return err
	}
	return fmt.Errorf("parameter %q not found in model", sv.parameter)
}
