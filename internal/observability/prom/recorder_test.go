package prom

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"kittycore/internal/core"
	"kittycore/internal/ledger"
	"kittycore/pkg/domain"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestRecorderObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	rec.Observe(ctx, "create_kitty", true, 20*time.Millisecond)
	rec.Observe(ctx, "create_kitty", true, 30*time.Millisecond)
	rec.Observe(ctx, "create_kitty", false, time.Millisecond)

	families := gather(t, reg)
	ops := families["kittycore_service_operations_total"]
	if ops == nil {
		t.Fatal("operations counter missing")
	}
	counts := map[string]float64{}
	for _, m := range ops.GetMetric() {
		counts[labelValue(m, "success")] = m.GetCounter().GetValue()
	}
	if counts["true"] != 2 || counts["false"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}

	hist := families["kittycore_service_operation_duration_seconds"]
	if hist == nil || len(hist.GetMetric()) != 1 {
		t.Fatalf("unexpected histogram family %v", hist)
	}
	if got := hist.GetMetric()[0].GetHistogram().GetSampleCount(); got != 3 {
		t.Fatalf("expected 3 samples, got %d", got)
	}
}

func TestRecorderRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewRecorder(reg); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := NewRecorder(reg); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if _, err := NewRecorder(nil); err == nil {
		t.Fatal("expected error for nil registerer")
	}
}

type zeroRandomness struct{}

func (zeroRandomness) Random([]byte) [32]byte { return [32]byte{} }

func TestRecorderWiredIntoService(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	book := ledger.New()
	book.SetFree("alice", 100_000)
	svc := core.NewInMemoryService(book, zeroRandomness{}, core.WithMetricsRecorder(rec), core.WithEventSink(rec))

	ctx := context.Background()
	first, _, err := svc.Create(ctx, core.Origin{Caller: "alice", Block: 1, CallIndex: 0})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.Transfer(ctx, core.Origin{Caller: "alice", Block: 1, CallIndex: 1}, "bob", first.ID); err == nil {
		t.Fatal("expected transfer to unfunded bob to fail")
	}

	families := gather(t, reg)
	events := families["kittycore_registry_events_total"]
	if events == nil || len(events.GetMetric()) != 1 {
		t.Fatalf("unexpected events family %v", events)
	}
	m := events.GetMetric()[0]
	if labelValue(m, "kind") != string(domain.EventCreated) || m.GetCounter().GetValue() != 1 {
		t.Fatalf("unexpected event metric %v", m)
	}

	path := filepath.Join(t.TempDir(), "kittycore.prom")
	if written, err := WriteTextfile(path, reg); err != nil || !written {
		t.Fatalf("write textfile: written=%v err=%v", written, err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(body), `kittycore_service_operations_total{operation="transfer_kitty",success="false"} 1`) {
		t.Fatalf("textfile missing failed transfer:\n%s", body)
	}
}

func TestWriteTextfileKeepsFileWhenRegistryIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kittycore.prom")
	previous := "kittycore_service_operations_total{operation=\"create_kitty\",success=\"true\"} 1\n"
	if err := os.WriteFile(path, []byte(previous), 0o600); err != nil {
		t.Fatalf("seed textfile: %v", err)
	}

	reg := prometheus.NewRegistry()
	if _, err := NewRecorder(reg); err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	written, err := WriteTextfile(path, reg)
	if err != nil || written {
		t.Fatalf("expected no write for an idle registry, written=%v err=%v", written, err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if string(body) != previous {
		t.Fatalf("textfile rewritten:\n%s", body)
	}
}
