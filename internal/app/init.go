package app

import (
	"context"
	"log/slog"

	"github.com/nulpointcorp/aicore-gateway/internal/aicore"
	"github.com/nulpointcorp/aicore-gateway/internal/auth"
	"github.com/nulpointcorp/aicore-gateway/internal/logger"
	"github.com/nulpointcorp/aicore-gateway/internal/metrics"
	"github.com/nulpointcorp/aicore-gateway/internal/proxy"
	"github.com/nulpointcorp/aicore-gateway/internal/registry"
)

// initAuth builds the Token Cache that exchanges SAP UAA client credentials
// for bearer tokens used against both the AI Core control plane and the
// proxied deployments.
func (a *App) initAuth(_ context.Context) error {
	a.tokens = auth.New(
		a.cfg.Credential.UAATokenURL,
		a.cfg.Credential.UAAClientID,
		a.cfg.Credential.UAAClientSecret,
		a.log,
	)
	return nil
}

// initRegistry builds the AI Core client and the Deployment Registry on top
// of it. The Registry's first refresh happens later, in Run, so that
// startup failures surface through the same errgroup as the HTTP server.
func (a *App) initRegistry(_ context.Context) error {
	a.aicore = aicore.New(a.cfg.Credential.AICoreAPIURl, auth.StringSource{Cache: a.tokens})

	models := make([]registry.ModelEntry, 0, len(a.cfg.Models))
	for _, m := range a.cfg.Models {
		models = append(models, registry.ModelEntry{
			Name:            m.Name,
			DeploymentID:    m.DeploymentID,
			AICoreModelName: m.AICoreModelName,
		})
	}

	a.registry = registry.New(
		a.aicore,
		a.cfg.Credential.ResourceGroup,
		models,
		registry.FallbackModels(a.cfg.FallbackModels),
		refreshInterval(a.cfg.RefreshIntervalSecs),
		a.log,
	)
	return nil
}

// initServices creates the Prometheus metrics registry and the async usage
// logger.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	reqLogger, err := logger.New(ctx, a.log)
	if err != nil {
		return err
	}
	a.reqLogger = reqLogger

	return nil
}

// initGateway wires together the Proxy Engine with all configured
// subsystems.
func (a *App) initGateway(_ context.Context) error {
	a.gw = proxy.New(
		a.registry,
		auth.StringSource{Cache: a.tokens},
		a.cfg.Credential.ResourceGroup,
		a.cfg.APIKeys,
		a.log,
		a.prom,
		a.reqLogger,
	)
	a.gw.SetCORSOrigins(a.cfg.CORSOrigins)

	a.mgmt = &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	a.log.Info("gateway configured",
		slog.Int("api_keys", len(a.cfg.APIKeys)),
		slog.String("resource_group", a.cfg.Credential.ResourceGroup),
	)

	return nil
}
