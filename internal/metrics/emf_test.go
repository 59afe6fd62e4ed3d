package metrics

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	t.Cleanup(restore)
	return &buf
}

func TestNew_FunctionNameDimension(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "pv-worker")

	r := New()
	if r.namespace != Namespace {
		t.Errorf("namespace = %s, want %s", r.namespace, Namespace)
	}
	if r.dimensions["FunctionName"] != "pv-worker" {
		t.Errorf("FunctionName dimension = %q, want pv-worker", r.dimensions["FunctionName"])
	}
}

func TestRecorder_FlushOutput(t *testing.T) {
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")
	buf := capture(t)

	New().
		Dimension("Stage", "decision").
		Metric("StageLatencyMs", 1234.5, UnitMilliseconds).
		Count("StageRuns").
		Property("jobId", "pv-123").
		Flush()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("EMF output is not JSON: %v\n%s", err, buf.String())
	}

	awsDir, ok := doc["_aws"].(map[string]interface{})
	if !ok {
		t.Fatal("missing _aws directive")
	}
	if _, ok := awsDir["Timestamp"]; !ok {
		t.Error("missing Timestamp")
	}
	cwArr, ok := awsDir["CloudWatchMetrics"].([]interface{})
	if !ok || len(cwArr) != 1 {
		t.Fatal("CloudWatchMetrics should hold one entry")
	}
	cw := cwArr[0].(map[string]interface{})
	if cw["Namespace"] != Namespace {
		t.Errorf("Namespace = %v", cw["Namespace"])
	}
	if metrics := cw["Metrics"].([]interface{}); len(metrics) != 2 {
		t.Errorf("expected 2 metric definitions, got %d", len(metrics))
	}

	if doc["Stage"] != "decision" {
		t.Errorf("Stage = %v", doc["Stage"])
	}
	if doc["StageLatencyMs"] != 1234.5 {
		t.Errorf("StageLatencyMs = %v", doc["StageLatencyMs"])
	}
	if doc["StageRuns"] != float64(1) {
		t.Errorf("StageRuns = %v", doc["StageRuns"])
	}
	if doc["jobId"] != "pv-123" {
		t.Errorf("jobId = %v", doc["jobId"])
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("\n")) || bytes.Count(buf.Bytes(), []byte("\n")) != 1 {
		t.Error("EMF document must be exactly one line")
	}
}

func TestRecorder_FlushEmpty(t *testing.T) {
	buf := capture(t)

	New().Dimension("Stage", "merge").Flush()

	if buf.Len() != 0 {
		t.Errorf("expected no output for recorder without metrics, got: %s", buf.String())
	}
}

func TestRecorder_Duration(t *testing.T) {
	rec := New().Duration("RunMs", time.Now().Add(-50*time.Millisecond))

	if rec.metrics["RunMs"].Unit != UnitMilliseconds {
		t.Errorf("unit = %s, want Milliseconds", rec.metrics["RunMs"].Unit)
	}
	if rec.values["RunMs"] < 50 {
		t.Errorf("RunMs = %v, want >= 50", rec.values["RunMs"])
	}
}

func TestRecorder_Chaining(t *testing.T) {
	rec := New().
		Dimension("Op", "test").
		Metric("Duration", 100, UnitMilliseconds).
		Count("Calls").
		Property("id", "xyz")

	if rec.dimensions["Op"] != "test" {
		t.Error("chaining Dimension failed")
	}
	if rec.values["Duration"] != float64(100) {
		t.Error("chaining Metric failed")
	}
	if rec.values["Calls"] != float64(1) {
		t.Error("chaining Count failed")
	}
	if rec.properties["id"] != "xyz" {
		t.Error("chaining Property failed")
	}
}
