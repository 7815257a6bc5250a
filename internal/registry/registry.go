// Package registry implements the Deployment Registry: a periodically
// refreshed, atomically published mapping from logical model name to
// upstream deployment URL, with fallback-family resolution (spec §4.3).
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/nulpointcorp/aicore-gateway/internal/aicore"
	"github.com/nulpointcorp/aicore-gateway/internal/family"
)

// ModelBinding is a resolved logical model name, per spec §3.
type ModelBinding struct {
	LogicalName   string
	DeploymentURL string
	Family        family.Family
}

// Snapshot is an immutable point-in-time view of the ModelBinding table.
// Never mutated after construction; a refresh builds a new one and
// atomically replaces the Registry's pointer to it.
type Snapshot struct {
	bindings map[string]ModelBinding
	fallback map[family.Family]string
}

// Resolve implements spec §4.3's resolution order: exact match, then
// family-inferred fallback, then NotFound.
func (s *Snapshot) Resolve(modelName string) (ModelBinding, bool) {
	if b, ok := s.bindings[modelName]; ok {
		return b, true
	}
	f := family.Detect(modelName)
	if f == family.Unknown {
		return ModelBinding{}, false
	}
	fallbackName, ok := s.fallback[f]
	if !ok {
		return ModelBinding{}, false
	}
	b, ok := s.bindings[fallbackName]
	return b, ok
}

// ModelEntry is a configured model binding, mirroring config.ModelEntry
// without this package importing internal/config.
type ModelEntry struct {
	Name            string
	DeploymentID    string
	AICoreModelName string
}

// FallbackModels mirrors config.FallbackModels.
type FallbackModels struct {
	OpenAI string
	Claude string
	Gemini string
}

// DeploymentLister is the subset of the AI Core Client the Registry needs.
type DeploymentLister interface {
	ListDeployments(ctx context.Context, resourceGroup string) ([]aicore.Deployment, error)
}

// Registry owns the current Snapshot and refreshes it on a timer.
type Registry struct {
	client        DeploymentLister
	resourceGroup string
	models        []ModelEntry
	fallback      FallbackModels
	interval      time.Duration
	log           *slog.Logger

	current atomic.Pointer[Snapshot]
	ready   atomic.Bool
}

// New constructs a Registry with no Snapshot. RunRefreshLoop performs the
// first refresh; until it succeeds, Resolve finds nothing and Ready reports
// false.
func New(client DeploymentLister, resourceGroup string, models []ModelEntry, fallback FallbackModels, interval time.Duration, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		client:        client,
		resourceGroup: resourceGroup,
		models:        models,
		fallback:      fallback,
		interval:      interval,
		log:           log,
	}
}

// Resolve looks up modelName in the current Snapshot. The returned
// ModelBinding (if ok) belongs to the Snapshot the caller's request started
// with, per spec §4.3/§5 — callers should call Resolve once per request and
// hold the result, not call it repeatedly expecting a stable reference.
func (r *Registry) Resolve(modelName string) (ModelBinding, bool) {
	snap := r.current.Load()
	if snap == nil {
		return ModelBinding{}, false
	}
	return snap.Resolve(modelName)
}

// Ready reports whether the Registry has completed at least one successful
// refresh, for the /readiness endpoint (SPEC_FULL.md supplemented feature).
func (r *Registry) Ready() bool {
	return r.ready.Load()
}

// RunRefreshLoop performs an initial synchronous refresh (returning its
// error, if any; on success Ready reports true) and then refreshes
// on a timer until ctx is cancelled. Failures never replace a populated
// Snapshot with an empty one (spec invariant 2) — the previous Snapshot is
// retained and the error is logged.
func (r *Registry) RunRefreshLoop(ctx context.Context) error {
	if err := r.refresh(ctx); err != nil {
		return fmt.Errorf("registry: initial refresh failed: %w", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.refresh(ctx); err != nil {
				r.log.WarnContext(ctx, "registry_refresh_failed", slog.Any("error", err))
			}
		}
	}
}

func (r *Registry) refresh(ctx context.Context) error {
	deployments, err := r.client.ListDeployments(ctx, r.resourceGroup)
	if err != nil {
		return err
	}

	running := make([]aicore.Deployment, 0, len(deployments))
	for _, d := range deployments {
		if d.Status == aicore.StatusRunning {
			running = append(running, d)
		}
	}

	bindings := make(map[string]ModelBinding, len(running))
	claimed := make(map[string]bool, len(running)) // deployment IDs already bound to a configured entry

	for _, m := range r.models {
		dep, ok := resolveConfiguredEntry(m, running)
		if !ok {
			continue
		}
		bindings[m.Name] = ModelBinding{
			LogicalName:   m.Name,
			DeploymentURL: dep.DeploymentURL,
			Family:        family.Detect(m.Name),
		}
		claimed[dep.ID] = true
	}

	for _, dep := range running {
		if claimed[dep.ID] {
			continue
		}
		logicalName := dep.ConfigurationName
		if logicalName == "" {
			logicalName = dep.ModelName
		}
		if logicalName == "" {
			continue
		}
		if _, exists := bindings[logicalName]; exists {
			continue
		}
		bindings[logicalName] = ModelBinding{
			LogicalName:   logicalName,
			DeploymentURL: dep.DeploymentURL,
			Family:        family.Detect(logicalName),
		}
	}

	fallbackTable := map[family.Family]string{}
	for f, name := range map[family.Family]string{
		family.OpenAI: r.fallback.OpenAI,
		family.Claude: r.fallback.Claude,
		family.Gemini: r.fallback.Gemini,
	} {
		if name == "" {
			continue
		}
		if _, ok := bindings[name]; ok {
			fallbackTable[f] = name
		} else {
			r.log.WarnContext(ctx, "registry_fallback_inert",
				slog.String("family", string(f)),
				slog.String("fallback_logical_name", name),
			)
		}
	}

	r.current.Store(&Snapshot{bindings: bindings, fallback: fallbackTable})
	r.ready.Store(true)
	return nil
}

// resolveConfiguredEntry applies the spec §4.3 step-2 lookup rules for one
// configured model entry against the set of RUNNING deployments.
func resolveConfiguredEntry(m ModelEntry, running []aicore.Deployment) (aicore.Deployment, bool) {
	switch {
	case m.DeploymentID != "":
		for _, d := range running {
			if d.ID == m.DeploymentID {
				return d, true
			}
		}
		return aicore.Deployment{}, false
	case m.AICoreModelName != "":
		return latestByModelName(running, m.AICoreModelName)
	default:
		return latestByModelName(running, m.Name)
	}
}

// latestByModelName finds the RUNNING deployment whose model.name equals
// name, preferring the most recent startTime with ties broken
// lexicographically by id (spec §4.3).
func latestByModelName(running []aicore.Deployment, name string) (aicore.Deployment, bool) {
	var matches []aicore.Deployment
	for _, d := range running {
		if d.ModelName == name {
			matches = append(matches, d)
		}
	}
	if len(matches) == 0 {
		return aicore.Deployment{}, false
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].StartTime.Equal(matches[j].StartTime) {
			return matches[i].StartTime.After(matches[j].StartTime)
		}
		return matches[i].ID < matches[j].ID
	})
	return matches[0], true
}
