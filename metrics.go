package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"
)

// MetricRecord is one logged training measurement.
type MetricRecord struct {
	Iteration  int     `json:"iteration"`
	TrainLoss  float64 `json:"train_loss"`
	ValLoss    float64 `json:"val_loss"`
	Perplexity float64 `json:"perplexity"`
}

// RunMetrics is the on-disk metrics file layout.
type RunMetrics struct {
	Project string         `json:"project"`
	Records []MetricRecord `json:"records"`
}

// RunLogger collects metrics for one training run. Records accumulate in
// memory for the metrics file; when an endpoint is configured each record is
// also pushed to the external metrics service as JSON.
type RunLogger struct {
	project  string
	endpoint string
	client   *http.Client
	records  []MetricRecord
}

func NewRunLogger(project, endpoint string) *RunLogger {
	return &RunLogger{
		project:  project,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Log records one measurement. Push failures are reported but never interrupt
// training.
func (r *RunLogger) Log(rec MetricRecord) {
	r.records = append(r.records, rec)
	if r.endpoint == "" {
		return
	}
	if err := r.push(rec); err != nil {
		fmt.Printf("   Warning: metrics push failed: %v\n", err)
	}
}

func (r *RunLogger) push(rec MetricRecord) error {
	payload, err := json.Marshal(struct {
		Project string `json:"project"`
		MetricRecord
	}{Project: r.project, MetricRecord: rec})
	if err != nil {
		return err
	}

	resp, err := r.client.Post(r.endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("metrics service returned %s", resp.Status)
	}
	return nil
}

func (r *RunLogger) Records() []MetricRecord { return r.records }

// Flush writes the accumulated records to a JSON metrics file.
func (r *RunLogger) Flush(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics file %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(RunMetrics{Project: r.project, Records: r.records}); err != nil {
		return fmt.Errorf("encode metrics file %s: %w", path, err)
	}
	return nil
}
