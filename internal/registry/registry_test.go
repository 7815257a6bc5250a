package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nulpointcorp/aicore-gateway/internal/aicore"
)

type stubLister struct {
	deployments []aicore.Deployment
	err         error
	calls       int
}

func (s *stubLister) ListDeployments(context.Context, string) ([]aicore.Deployment, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.deployments, nil
}

func mkDeployment(id, status, configName, modelName, url string, start time.Time) aicore.Deployment {
	return aicore.Deployment{
		ID:                id,
		Status:            status,
		ConfigurationName: configName,
		ModelName:         modelName,
		DeploymentURL:     url,
		StartTime:         start,
	}
}

func TestRefresh_BindsConfiguredEntriesByModelName(t *testing.T) {
	lister := &stubLister{deployments: []aicore.Deployment{
		mkDeployment("dep-1", aicore.StatusRunning, "gpt4-config", "gpt-4", "https://d/gpt4", time.Unix(100, 0)),
		mkDeployment("dep-2", aicore.StatusRunning, "stopped-config", "gpt-3.5", "https://d/old", time.Unix(50, 0)),
	}}
	models := []ModelEntry{{Name: "gpt-4-prod", AICoreModelName: "gpt-4"}}

	r := New(lister, "default", models, FallbackModels{}, time.Hour, nil)
	if err := r.refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, ok := r.Resolve("gpt-4-prod")
	if !ok {
		t.Fatal("expected gpt-4-prod to resolve")
	}
	if b.DeploymentURL != "https://d/gpt4" {
		t.Errorf("unexpected deployment url: %s", b.DeploymentURL)
	}
	if b.Family != "openai" {
		t.Errorf("expected openai family, got %s", b.Family)
	}
}

func TestRefresh_BindsByDeploymentID(t *testing.T) {
	lister := &stubLister{deployments: []aicore.Deployment{
		mkDeployment("dep-7", aicore.StatusRunning, "cfg", "claude-sonnet-4", "https://d/claude", time.Unix(1, 0)),
	}}
	models := []ModelEntry{{Name: "claude-prod", DeploymentID: "dep-7"}}

	r := New(lister, "default", models, FallbackModels{}, time.Hour, nil)
	if err := r.refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	b, ok := r.Resolve("claude-prod")
	if !ok || b.DeploymentURL != "https://d/claude" {
		t.Fatalf("unexpected resolution: %+v ok=%v", b, ok)
	}
}

func TestRefresh_PicksLatestStartTimeOnTie(t *testing.T) {
	lister := &stubLister{deployments: []aicore.Deployment{
		mkDeployment("dep-old", aicore.StatusRunning, "cfg1", "gpt-4", "https://d/old", time.Unix(100, 0)),
		mkDeployment("dep-new", aicore.StatusRunning, "cfg2", "gpt-4", "https://d/new", time.Unix(200, 0)),
	}}
	models := []ModelEntry{{Name: "gpt-4-prod", AICoreModelName: "gpt-4"}}

	r := New(lister, "default", models, FallbackModels{}, time.Hour, nil)
	_ = r.refresh(context.Background())

	b, _ := r.Resolve("gpt-4-prod")
	if b.DeploymentURL != "https://d/new" {
		t.Errorf("expected latest deployment, got %s", b.DeploymentURL)
	}
}

func TestRefresh_ExcludesNonRunningDeployments(t *testing.T) {
	lister := &stubLister{deployments: []aicore.Deployment{
		mkDeployment("dep-1", "STOPPED", "cfg", "gpt-4", "https://d/stopped", time.Unix(1, 0)),
	}}
	r := New(lister, "default", nil, FallbackModels{}, time.Hour, nil)
	_ = r.refresh(context.Background())

	if _, ok := r.Resolve("cfg"); ok {
		t.Fatal("expected stopped deployment not to be bound")
	}
}

func TestResolve_FallsBackByFamily(t *testing.T) {
	lister := &stubLister{deployments: []aicore.Deployment{
		mkDeployment("dep-1", aicore.StatusRunning, "gpt-4-default", "gpt-4", "https://d/gpt4", time.Unix(1, 0)),
	}}
	models := []ModelEntry{{Name: "gpt-4-default", AICoreModelName: "gpt-4"}}
	fallback := FallbackModels{OpenAI: "gpt-4-default"}

	r := New(lister, "default", models, fallback, time.Hour, nil)
	_ = r.refresh(context.Background())

	b, ok := r.Resolve("gpt-4-turbo-unknown")
	if !ok {
		t.Fatal("expected fallback resolution for unrecognized openai model name")
	}
	if b.DeploymentURL != "https://d/gpt4" {
		t.Errorf("unexpected fallback target: %s", b.DeploymentURL)
	}
}

func TestResolve_UnknownFamilyNeverFallsBack(t *testing.T) {
	lister := &stubLister{deployments: []aicore.Deployment{
		mkDeployment("dep-1", aicore.StatusRunning, "gpt-4-default", "gpt-4", "https://d/gpt4", time.Unix(1, 0)),
	}}
	models := []ModelEntry{{Name: "gpt-4-default", AICoreModelName: "gpt-4"}}
	fallback := FallbackModels{OpenAI: "gpt-4-default"}

	r := New(lister, "default", models, fallback, time.Hour, nil)
	_ = r.refresh(context.Background())

	if _, ok := r.Resolve("mistral-large"); ok {
		t.Fatal("expected no resolution for a family with no configured fallback")
	}
}

func TestResolve_InertFallbackIsNotBoundButDoesNotFail(t *testing.T) {
	lister := &stubLister{deployments: []aicore.Deployment{
		mkDeployment("dep-1", aicore.StatusRunning, "gpt-4-default", "gpt-4", "https://d/gpt4", time.Unix(1, 0)),
	}}
	fallback := FallbackModels{Claude: "claude-prod-not-configured"}

	r := New(lister, "default", nil, fallback, time.Hour, nil)
	if err := r.refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := r.Resolve("claude-3-opus"); ok {
		t.Fatal("expected inert fallback to leave claude family unresolved")
	}
}

func TestRunRefreshLoop_FailureRetainsPriorSnapshot(t *testing.T) {
	lister := &stubLister{deployments: []aicore.Deployment{
		mkDeployment("dep-1", aicore.StatusRunning, "gpt-4-default", "gpt-4", "https://d/gpt4", time.Unix(1, 0)),
	}}
	r := New(lister, "default", nil, FallbackModels{}, time.Hour, nil)
	if err := r.refresh(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lister.err = errors.New("control plane unreachable")
	if err := r.refresh(context.Background()); err == nil {
		t.Fatal("expected refresh to surface the error")
	}

	b, ok := r.Resolve("gpt-4-default")
	if !ok || b.DeploymentURL != "https://d/gpt4" {
		t.Fatalf("expected prior snapshot retained, got %+v ok=%v", b, ok)
	}
}

func TestRunRefreshLoop_InitialFailureReturnsError(t *testing.T) {
	lister := &stubLister{err: errors.New("boom")}
	r := New(lister, "default", nil, FallbackModels{}, time.Millisecond, nil)

	if err := r.RunRefreshLoop(context.Background()); err == nil {
		t.Fatal("expected initial refresh failure to be returned")
	}
	if r.Ready() {
		t.Fatal("registry should not be ready after a failed initial refresh")
	}
}

func TestRunRefreshLoop_BecomesReadyAndStopsOnCancel(t *testing.T) {
	lister := &stubLister{deployments: []aicore.Deployment{
		mkDeployment("dep-1", aicore.StatusRunning, "cfg", "gpt-4", "https://d/gpt4", time.Unix(1, 0)),
	}}
	r := New(lister, "default", nil, FallbackModels{}, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.RunRefreshLoop(ctx) }()

	time.Sleep(30 * time.Millisecond)
	if !r.Ready() {
		t.Fatal("expected registry to become ready")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error from loop shutdown: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunRefreshLoop did not stop after cancellation")
	}
	if lister.calls < 2 {
		t.Errorf("expected at least 2 refresh calls (initial + ticked), got %d", lister.calls)
	}
}

func TestResolve_NoSnapshotYet(t *testing.T) {
	lister := &stubLister{}
	r := New(lister, "default", nil, FallbackModels{}, time.Hour, nil)
	if _, ok := r.Resolve("anything"); ok {
		t.Fatal("expected no resolution before the first refresh")
	}
}
