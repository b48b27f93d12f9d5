package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cortex-ops/cortex/internal/knowledge"
)

type fakeHealth struct {
	checked   []string
	unhealthy map[string]bool
}

func (f *fakeHealth) CheckHealth(ctx context.Context, service string) bool {
	f.checked = append(f.checked, service)
	return !f.unhealthy[service]
}

type fakeInvestigator struct {
	calls []string
	err   error
}

func (f *fakeInvestigator) Diagnose(ctx context.Context, service, trigger string) (*knowledge.Incident, error) {
	f.calls = append(f.calls, service+"|"+trigger)
	if f.err != nil {
		return nil, f.err
	}
	return &knowledge.Incident{IncidentID: "inc-1", Service: service, Trigger: trigger}, nil
}

type fakeDiscoverer struct {
	runs chan struct{}
}

func (f *fakeDiscoverer) Run(ctx context.Context) error {
	if f.runs != nil {
		select {
		case f.runs <- struct{}{}:
		default:
		}
	}
	return nil
}

type fakeSink struct {
	sent []*knowledge.Incident
}

func (f *fakeSink) SendIncident(ctx context.Context, incident *knowledge.Incident) {
	f.sent = append(f.sent, incident)
}

func openTestStore(t *testing.T) *knowledge.Store {
	t.Helper()
	s, err := knowledge.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCheckAllSkipsDatastores(t *testing.T) {
	store := openTestStore(t)
	store.UpsertService(knowledge.Service{Name: "api-x", Type: "app", HealthURL: "https://api-x.example.com/health"})
	store.UpsertService(knowledge.Service{Name: "postgres-main", Type: "database"})
	store.UpsertService(knowledge.Service{Name: "redis-sessions", Type: "cache"})

	health := &fakeHealth{}
	s := New(store, health, &fakeInvestigator{}, &fakeDiscoverer{}, &fakeSink{}, time.Minute, time.Hour)
	s.checkAll(context.Background())

	if len(health.checked) != 1 || health.checked[0] != "api-x" {
		t.Errorf("checked: %v", health.checked)
	}
}

func TestCheckAllInvestigatesUnhealthyService(t *testing.T) {
	store := openTestStore(t)
	store.UpsertService(knowledge.Service{Name: "api-x", Type: "app", HealthURL: "https://api-x.example.com/health"})

	health := &fakeHealth{unhealthy: map[string]bool{"api-x": true}}
	inv := &fakeInvestigator{}
	sink := &fakeSink{}
	s := New(store, health, inv, &fakeDiscoverer{}, sink, time.Minute, time.Hour)
	s.checkAll(context.Background())

	if len(inv.calls) != 1 || inv.calls[0] != "api-x|Health check failed for api-x" {
		t.Fatalf("investigations: %v", inv.calls)
	}
	if len(sink.sent) != 1 || sink.sent[0].IncidentID != "inc-1" {
		t.Errorf("notifications: %+v", sink.sent)
	}

	svc, _ := store.GetService("api-x")
	if svc.Status != "unhealthy" {
		t.Errorf("status = %q", svc.Status)
	}

	events, _ := store.GetRecentEvents(10)
	found := false
	for _, e := range events {
		if e.EventType == "health_check_failed" && e.Service == "api-x" {
			found = true
		}
	}
	if !found {
		t.Errorf("health_check_failed event missing: %+v", events)
	}
}

func TestCheckAllHealthyServiceNotInvestigated(t *testing.T) {
	store := openTestStore(t)
	store.UpsertService(knowledge.Service{Name: "api-x", Type: "app", HealthURL: "https://api-x.example.com/health"})

	inv := &fakeInvestigator{}
	s := New(store, &fakeHealth{}, inv, &fakeDiscoverer{}, &fakeSink{}, time.Minute, time.Hour)
	s.checkAll(context.Background())

	if len(inv.calls) != 0 {
		t.Errorf("investigations: %v", inv.calls)
	}
}

func TestCheckAllUnhealthyWithoutURLNotInvestigated(t *testing.T) {
	store := openTestStore(t)
	store.UpsertService(knowledge.Service{Name: "worker", Type: "worker"})

	health := &fakeHealth{unhealthy: map[string]bool{"worker": true}}
	inv := &fakeInvestigator{}
	s := New(store, health, inv, &fakeDiscoverer{}, &fakeSink{}, time.Minute, time.Hour)
	s.checkAll(context.Background())

	if len(inv.calls) != 0 {
		t.Errorf("investigations: %v", inv.calls)
	}
}

func TestCheckAllInvestigationFailureContinues(t *testing.T) {
	store := openTestStore(t)
	store.UpsertService(knowledge.Service{Name: "api-x", Type: "app", HealthURL: "https://a/health"})
	store.UpsertService(knowledge.Service{Name: "api-y", Type: "app", HealthURL: "https://b/health"})

	health := &fakeHealth{unhealthy: map[string]bool{"api-x": true, "api-y": true}}
	inv := &fakeInvestigator{err: errors.New("provider down")}
	sink := &fakeSink{}
	s := New(store, health, inv, &fakeDiscoverer{}, sink, time.Minute, time.Hour)
	s.checkAll(context.Background())

	if len(inv.calls) != 2 {
		t.Errorf("both services should be investigated: %v", inv.calls)
	}
	if len(sink.sent) != 0 {
		t.Errorf("failed investigations should not notify: %+v", sink.sent)
	}
}

func TestMonitorLoopStopsOnCancel(t *testing.T) {
	store := openTestStore(t)
	s := New(store, &fakeHealth{}, &fakeInvestigator{}, &fakeDiscoverer{}, &fakeSink{}, time.Millisecond, time.Hour)
	s.SetStartupDelay(0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.MonitorLoop(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("monitor loop did not stop")
	}
}

func TestDiscoveryLoopWaitsFullIntervalThenRuns(t *testing.T) {
	store := openTestStore(t)
	disc := &fakeDiscoverer{runs: make(chan struct{}, 1)}
	s := New(store, &fakeHealth{}, &fakeInvestigator{}, disc, &fakeSink{}, time.Hour, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.DiscoveryLoop(ctx) }()

	select {
	case <-disc.runs:
	case <-time.After(time.Second):
		t.Fatal("discovery never ran")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("discovery loop did not stop")
	}
}

func TestInitialDiscoveryRunsOnce(t *testing.T) {
	store := openTestStore(t)
	disc := &fakeDiscoverer{runs: make(chan struct{}, 1)}
	s := New(store, &fakeHealth{}, &fakeInvestigator{}, disc, &fakeSink{}, time.Hour, time.Hour)

	s.InitialDiscovery(context.Background())
	select {
	case <-disc.runs:
	default:
		t.Fatal("initial discovery did not run")
	}
}
