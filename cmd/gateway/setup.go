package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/Harshith2412/zta-finance/internal/audit"
	"github.com/Harshith2412/zta-finance/internal/authn"
	"github.com/Harshith2412/zta-finance/internal/config"
	"github.com/Harshith2412/zta-finance/internal/decision"
	"github.com/Harshith2412/zta-finance/internal/device"
	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/encryption"
	"github.com/Harshith2412/zta-finance/internal/gateway/app"
	"github.com/Harshith2412/zta-finance/internal/gateway/port"
	"github.com/Harshith2412/zta-finance/internal/identity"
	"github.com/Harshith2412/zta-finance/internal/kv"
	"github.com/Harshith2412/zta-finance/internal/policy"
	"github.com/Harshith2412/zta-finance/internal/risk"
	"github.com/Harshith2412/zta-finance/internal/server"
	"github.com/Harshith2412/zta-finance/internal/session"
	"github.com/Harshith2412/zta-finance/internal/token"
)

// configuredKeyID names the data key seeded from configuration. Rotated
// successors use timestamped IDs under the same key_ convention.
const configuredKeyID = "key_config"

// setup is the gateway composition root. It creates the store client,
// the identity, credential, token, session and device services, the risk
// and policy engines, the decision points, and mounts the authentication
// surface plus the guarded resource routes.
func setup(ctx context.Context, deps server.SetupDeps) (http.Handler, func(context.Context) error, error) {
	cfg := deps.Config
	logger := deps.Logger

	// 1. Infrastructure client.
	store := kv.NewClient(kv.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})

	// 2. Secrets (environment-dependent).
	secret, err := signingSecret(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway setup: signing secret: %w", err)
	}

	clock := domain.RealClock{}
	keys := encryption.NewManager(encryption.ManagerConfig{
		Store:  store,
		Clock:  clock,
		Logger: logger,
	})
	if err := bootstrapKeys(ctx, keys, cfg, logger); err != nil {
		return nil, nil, fmt.Errorf("gateway setup: bootstrap data keys: %w", err)
	}

	// 3. Core services.
	users := identity.NewDirectory(identity.DirectoryConfig{
		Store:  store,
		Clock:  clock,
		Logger: logger,
	})
	creds := authn.NewService(authn.ServiceConfig{
		Store:             store,
		Clock:             clock,
		Logger:            logger,
		MaxFailedAttempts: cfg.Lockout.MaxFailedAttempts,
		LockoutWindow:     cfg.Lockout.Duration(),
		MFAIssuer:         cfg.MFA.Issuer,
	})
	tokens, err := token.NewManager(token.ManagerConfig{
		Store:      store,
		Secret:     secret,
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.AccessTTL(),
		RefreshTTL: cfg.JWT.RefreshTTL(),
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gateway setup: create token manager: %w", err)
	}
	sessions := session.NewManager(session.ManagerConfig{
		Store:   store,
		Clock:   clock,
		Timeout: cfg.Session.Timeout(),
		Logger:  logger,
	})
	devices := device.NewVerifier(device.VerifierConfig{
		Store:     store,
		Clock:     clock,
		RecordTTL: cfg.Device.RecordTTL(),
		Logger:    logger,
	})

	var auditCipher *encryption.Cipher
	if cfg.Audit.Encryption {
		cipher, keyID, err := keys.ActiveCipher(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gateway setup: audit cipher: %w", err)
		}
		logger.InfoContext(ctx, "audit trail encryption enabled", slog.String("key_id", keyID))
		auditCipher = cipher
	}
	trail := audit.NewLogger(audit.LoggerConfig{
		Store:     store,
		Cipher:    auditCipher,
		Clock:     clock,
		Retention: cfg.Audit.Retention(),
		Logger:    logger,
	})

	// 4. Risk and policy engines.
	doc, err := policy.Load(cfg.Policies.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway setup: load policy document: %w", err)
	}
	engine, err := policy.NewEngine(policy.EngineConfig{
		Document: doc,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gateway setup: create policy engine: %w", err)
	}
	intel, err := risk.NewStaticIntel(cfg.Risk.AnonymizerCIDRs, cfg.Risk.SuspiciousCIDRs)
	if err != nil {
		return nil, nil, fmt.Errorf("gateway setup: parse intel networks: %w", err)
	}
	analyzer := risk.NewAnalyzer(risk.AnalyzerConfig{
		Store:           store,
		Intel:           intel,
		Clock:           clock,
		Weights:         doc.RiskFactors,
		RequireDeviceID: cfg.Device.FingerprintRequired,
		Logger:          logger,
	})

	// 5. Decision points.
	pdp, err := decision.NewPDP(decision.PDPConfig{
		Scorer:  analyzer,
		Engine:  engine,
		Auditor: trail,
		Clock:   clock,
		Thresholds: decision.Thresholds{
			Low:    cfg.Risk.ThresholdLow,
			Medium: cfg.Risk.ThresholdMedium,
			High:   cfg.Risk.ThresholdHigh,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gateway setup: create decision point: %w", err)
	}
	pep, err := decision.NewPEP(decision.PEPConfig{PDP: pdp, Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("gateway setup: create enforcement point: %w", err)
	}

	// 6. Authentication surface.
	svc := app.NewService(app.ServiceConfig{
		Users:       users,
		Credentials: creds,
		Tokens:      tokens,
		Sessions:    sessions,
		Devices:     devices,
		Audit:       trail,
		Clock:       clock,
		AccessTTL:   cfg.JWT.AccessTTL(),
		Logger:      logger,
	})
	port.NewAuthHandler(svc).Routes(deps.Mux)

	// 7. Guarded resource routes in front of the upstream.
	if cfg.Gateway.UpstreamURL != "" {
		identify := newIdentifier(tokens, users, devices, sessions, logger)
		if err := mountProtectedRoutes(deps.Mux, cfg.Gateway.UpstreamURL, pep, identify, logger); err != nil {
			return nil, nil, fmt.Errorf("gateway setup: mount protected routes: %w", err)
		}
	} else {
		logger.WarnContext(ctx, "no upstream configured, protected resource routes disabled")
	}

	logger.InfoContext(ctx, "gateway initialized",
		slog.Int("policies", len(doc.Policies)),
		slog.String("environment", cfg.Environment))

	// 8. Outer middleware chain, request logging outermost.
	outer := server.Chain(deps.Mux,
		server.RequestLog(logger),
		server.Recover(logger),
		server.RateLimit(server.RateLimitConfig{
			Store:     store,
			PerMinute: cfg.Gateway.RateLimitPerMinute,
			PerHour:   cfg.Gateway.RateLimitPerHour,
			Logger:    logger,
		}),
	)

	cleanup := func(_ context.Context) error {
		return store.Close()
	}
	return outer, cleanup, nil
}

// signingSecret returns the token signing secret for the environment.
// Local: generates an ephemeral secret when none is configured, so issued
// tokens do not survive a restart.
func signingSecret(cfg *config.Config, logger *slog.Logger) (domain.SecretString, error) {
	if !cfg.JWT.SecretKey.IsEmpty() {
		return cfg.JWT.SecretKey, nil
	}
	if !cfg.IsLocal() {
		return "", fmt.Errorf("jwt.secret_key: %w", domain.ErrConfigRequired)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate dev signing secret: %w", err)
	}
	logger.Info("using ephemeral signing secret for local development")
	return domain.SecretString(base64.StdEncoding.EncodeToString(buf)), nil
}

// bootstrapKeys makes sure the key manager has an active data key. A
// configured key seeds the store only when no active key exists yet; a
// running deployment's rotation state wins over configuration.
func bootstrapKeys(ctx context.Context, keys *encryption.Manager, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Encryption.Key.IsEmpty() {
		if !cfg.IsLocal() {
			return fmt.Errorf("encryption.key: %w", domain.ErrConfigRequired)
		}
		keyID, err := keys.Initialize(ctx)
		if err != nil {
			return err
		}
		logger.Info("using generated data key for local development", slog.String("key_id", keyID))
		return nil
	}

	if _, err := keys.ActiveKeyID(ctx); err == nil {
		return nil
	} else if !domain.IsNotFound(err) {
		return err
	}

	raw, err := cfg.Encryption.DecodeKey()
	if err != nil {
		return err
	}
	if err := keys.StoreKey(ctx, configuredKeyID, raw, map[string]string{"origin": "config"}); err != nil {
		return err
	}
	if err := keys.SetActiveKey(ctx, configuredKeyID); err != nil {
		return err
	}
	logger.InfoContext(ctx, "seeded data key from configuration", slog.String("key_id", configuredKeyID))
	return nil
}

// protectedRoutes maps the proxied banking routes to the resources and
// actions the decision point evaluates.
func protectedRoutes() decision.RouteTable {
	return decision.RouteTable{
		"GET /accounts":      {Resource: "account", Action: "read"},
		"GET /accounts/{id}": {Resource: "account", Action: "read"},
		"GET /transactions":  {Resource: "transaction", Action: "read"},
		"POST /transactions": {Resource: "transaction", Action: "create"},
		"POST /payments":     {Resource: "payment", Action: "execute"},
	}
}

// mountProtectedRoutes wires the decision middleware in front of a reverse
// proxy to the upstream banking services and registers every guarded
// route pattern on the mux.
func mountProtectedRoutes(mux *http.ServeMux, upstreamURL string, pep *decision.PEP, identify decision.ContextProvider, logger *slog.Logger) error {
	upstream, err := url.Parse(upstreamURL)
	if err != nil {
		return fmt.Errorf("parse upstream url: %w", err)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	table := protectedRoutes()
	guard, err := decision.NewMiddleware(decision.MiddlewareConfig{
		PEP:      pep,
		Table:    table,
		Identify: identify,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	protected := guard.Wrap(proxy)
	for pattern := range table {
		mux.Handle(pattern, protected)
	}

	logger.Info("protected resource routes mounted",
		slog.String("upstream", upstream.Host),
		slog.Int("routes", len(table)))
	return nil
}
