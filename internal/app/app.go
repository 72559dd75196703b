// Package app wires every component together into one running hub
// process: the shape cmd/hubd's serve command builds once at startup
// and the HTTP handlers close over (spec.md §2 "Data flow").
package app

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dive-federation/hub/internal/breaker"
	"github.com/dive-federation/hub/internal/bundle"
	"github.com/dive-federation/hub/internal/clearance"
	"github.com/dive-federation/hub/internal/config"
	"github.com/dive-federation/hub/internal/exchange"
	"github.com/dive-federation/hub/internal/federation"
	"github.com/dive-federation/hub/internal/httpclient"
	"github.com/dive-federation/hub/internal/metrics"
	"github.com/dive-federation/hub/internal/publish"
	"github.com/dive-federation/hub/internal/spoke"
	"github.com/dive-federation/hub/internal/store"
	"github.com/dive-federation/hub/internal/trust"
)

// LocalRealm identifies this process in the bilateral trust graph and
// in federation sync, the same hardcoded source identity spoke.go uses
// for trust edges (spec.md §2: the hub is always one fixed side of every
// spoke relationship, not itself a configurable realm).
const LocalRealm = "HUB"

// App bundles every live component for one hub process.
type App struct {
	Config     config.Config
	Log        *zap.SugaredLogger
	Store      *store.Store
	Trust      *trust.Registry
	Spokes     *spoke.Registry
	Breakers   *breaker.Registry
	Clearance  *clearance.Store
	Health     *metrics.HealthScorer
	Metrics    *metrics.Collectors
	Builder    *bundle.Builder
	Publisher  *publish.Publisher
	Exchange   *exchange.Engine
	Federation *federation.Syncer
}

// Bootstrap connects to the durable store, rehydrates in-memory
// registries, and wires up the component graph (spec.md §2, §5).
func Bootstrap(ctx context.Context, cfg config.Config, log *zap.SugaredLogger, reg prometheus.Registerer) (*App, error) {
	st, err := store.Connect(ctx, cfg.MongoURI, "dive_hub")
	if err != nil {
		return nil, err
	}
	if err := st.EnsureIndexes(ctx); err != nil {
		return nil, err
	}

	trustRegistry := trust.NewRegistry(30*time.Second, 1024)
	edges, err := st.BilateralTrust().LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		trustRegistry.Put(e)
	}

	mapping, err := st.ClearanceEquivalency().LoadMapping(ctx)
	if err != nil {
		return nil, err
	}
	if len(mapping) == 0 {
		mapping = clearance.DefaultMapping()
		if err := st.ClearanceEquivalency().SaveMapping(ctx, mapping); err != nil {
			return nil, err
		}
	}
	clearanceStore := clearance.NewStore(mapping)

	breakers := breaker.NewRegistry(breaker.DefaultConfig(), nil)
	health := metrics.NewHealthScorer()
	var collectors *metrics.Collectors
	if reg != nil {
		collectors = metrics.NewCollectors(reg)
	}

	httpClient, err := httpclient.New(httpclient.Config{CABundlePath: cfg.TLSCABundlePath})
	if err != nil {
		return nil, err
	}

	signer, err := loadBundleSigner(cfg)
	if err != nil {
		return nil, err
	}
	source := bundle.NewDirSourceTree(bundleSourcePath)
	builder := bundle.NewBuilder(source, st.BundleArtifacts(), st.BundlesCurrent(), signer)

	plane := publish.NewNoopDataPlane()
	publisher := publish.New(plane, store.NewInlineDataAdapter(st))

	exchangeEngine := exchange.New(trustRegistry, breakers, exchange.NewHTTPTransport(httpClient), cfg.FederationPeers)
	federationSyncer := federation.NewSyncer(LocalRealm, st.Resources(LocalRealm), st.FederationSync())

	// spokesRef is assigned once spokes exists; the closures below only
	// run after ApproveSpoke/SuspendSpoke/RevokeSpoke are first callable.
	var spokesRef *spoke.Registry
	onLifecycleChange := func(ctx context.Context, reason string) {
		rebuildAndPublish(ctx, log, builder, publisher, spokesRef, signer != nil, reason)
	}
	events := spoke.Events{
		OnApproved: func(ctx context.Context, spokeID string, grant spoke.Grant) {
			log.Infow("spoke approved", "spokeId", spokeID, "trustLevel", grant.TrustLevel)
			onLifecycleChange(ctx, "spoke "+spokeID+" approved")
		},
		OnSuspended: func(ctx context.Context, spokeID string, reason string) {
			log.Warnw("spoke suspended", "spokeId", spokeID, "reason", reason)
			onLifecycleChange(ctx, "spoke "+spokeID+" suspended: "+reason)
		},
		OnRevoked: func(ctx context.Context, spokeID string, reason string) {
			log.Warnw("spoke revoked", "spokeId", spokeID, "reason", reason)
			onLifecycleChange(ctx, "spoke "+spokeID+" revoked: "+reason)
		},
	}
	spokes := spoke.NewRegistry(trustRegistry, events, spoke.WithTokenTTL(24*time.Hour))
	spokesRef = spokes

	records, err := st.Spokes().List(ctx, "")
	if err != nil {
		return nil, err
	}
	spokes.LoadRecords(records)

	return &App{
		Config:     cfg,
		Log:        log,
		Store:      st,
		Trust:      trustRegistry,
		Spokes:     spokes,
		Breakers:   breakers,
		Clearance:  clearanceStore,
		Health:     health,
		Metrics:    collectors,
		Builder:    builder,
		Publisher:  publisher,
		Exchange:   exchangeEngine,
		Federation: federationSyncer,
	}, nil
}

// bundleSourcePath is the default policy source tree root, matching
// `hubd bundle build`'s own --source default.
const bundleSourcePath = "./policy"

// loadBundleSigner reads the configured signing key, or returns a nil
// Signer (unsigned bundles) when no key is configured (spec.md §4.6,
// matching `hubd bundle build --sign`'s own optionality).
func loadBundleSigner(cfg config.Config) (bundle.Signer, error) {
	if cfg.BundleSigningKeyPath == "" || cfg.BundleSigningKeyID == "" {
		return nil, nil
	}
	keyPEM, err := os.ReadFile(cfg.BundleSigningKeyPath)
	if err != nil {
		return nil, err
	}
	return bundle.LoadKeySigner(keyPEM, cfg.BundleSigningKeyID)
}

// rebuildAndPublish rebuilds the policy bundle over every approved
// spoke's allowed scopes, publishes it, and refreshes the trusted-issuer
// list, then broadcasts a refresh signal — the chain spec.md §4.2
// ApproveSpoke/RevokeSpoke describe as "triggers a bundle rebuild and
// trusted-issuer publish". Runs outside the spoke registry's lock
// (spoke.Events doc comment), so failures are logged, not returned: the
// lifecycle transition itself already committed.
func rebuildAndPublish(ctx context.Context, log *zap.SugaredLogger, builder *bundle.Builder, publisher *publish.Publisher, spokes *spoke.Registry, sign bool, reason string) {
	approved := spokes.List(spoke.Approved)

	scopeSet := map[string]bool{}
	issuerSet := map[string]bool{}
	for _, rec := range approved {
		for _, scope := range rec.AllowedPolicyScopes {
			scopeSet[scope] = true
		}
		if rec.IdPURL != "" {
			issuerSet[rec.IdPURL] = true
		}
	}
	scopes := make([]string, 0, len(scopeSet))
	for scope := range scopeSet {
		scopes = append(scopes, scope)
	}
	issuers := make([]string, 0, len(issuerSet))
	for issuer := range issuerSet {
		issuers = append(issuers, issuer)
	}

	built, err := builder.Build(ctx, bundle.BuildOptions{Scopes: scopes, Sign: sign, IncludeData: true})
	if err != nil {
		log.Errorw("bundle rebuild failed", "reason", reason, "error", err)
		return
	}
	if err := publisher.Publish(ctx, built); err != nil {
		log.Errorw("bundle publish failed", "reason", reason, "bundleId", built.BundleID, "error", err)
		return
	}
	if err := publisher.UpdateTrustedIssuers(ctx, issuers); err != nil {
		log.Errorw("trusted issuers publish failed", "reason", reason, "error", err)
		return
	}
	if err := publisher.TriggerRefresh(ctx); err != nil {
		log.Errorw("refresh broadcast failed", "reason", reason, "error", err)
		return
	}
	log.Infow("bundle rebuilt and published", "reason", reason, "bundleId", built.BundleID, "version", built.Version)
}
