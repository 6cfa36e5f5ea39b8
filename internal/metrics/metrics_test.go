package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	_ = g.Write(m)
	return m.GetGauge().GetValue()
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func TestInitMetrics(t *testing.T) {
	m := Init(nil)
	if m == nil {
		t.Fatal("Init returned nil")
	}

	// Verify all metrics are initialized
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"FramesTotal", m.FramesTotal},
		{"FramesDropped", m.FramesDropped},
		{"ChannelState", m.ChannelState},
		{"Reconnects", m.Reconnects},
		{"UploadsTotal", m.UploadsTotal},
		{"UploadQueueDepth", m.UploadQueueDepth},
		{"UploadedBytes", m.UploadedBytes},
		{"DispatchesTotal", m.DispatchesTotal},
		{"RecordsTotal", m.RecordsTotal},
		{"RecordsActive", m.RecordsActive},
		{"RecordsFailed", m.RecordsFailed},
		{"SweptRecords", m.SweptRecords},
		{"SnapshotRefreshes", m.SnapshotRefreshes},
	}

	for _, tt := range tests {
		if tt.metric == nil {
			t.Errorf("%s is nil", tt.name)
		}
	}
}

func TestInitIsSingleton(t *testing.T) {
	first := Init(nil)
	second := Init(prometheus.NewRegistry())

	if first != second {
		t.Error("Init returned different instances")
	}
}

func TestMetricsValues(t *testing.T) {
	m := Init(nil)

	m.ChannelState.Set(2)
	m.FramesDropped.Inc()
	m.FramesTotal.WithLabelValues("states_updated").Add(3)

	if v := gaugeValue(m.ChannelState); v != 2 {
		t.Errorf("ChannelState = %v, want 2", v)
	}
	if v := counterValue(m.FramesDropped); v < 1 {
		t.Errorf("FramesDropped = %v, want >= 1", v)
	}

	mfs, err := Registry.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "docsync_live_frames_total" {
			found = true
			if len(mf.GetMetric()) == 0 {
				t.Error("No metrics found for docsync_live_frames_total")
				continue
			}
			labels := mf.GetMetric()[0].GetLabel()
			if len(labels) != 1 || labels[0].GetName() != "type" {
				t.Errorf("Expected a single type label, got %v", labels)
			}
		}
	}
	if !found {
		t.Error("docsync_live_frames_total not found in gathered metrics")
	}
}
