package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/crmboard/internal/analytics"
	"github.com/sells-group/crmboard/internal/cache"
	"github.com/sells-group/crmboard/internal/store"
	"github.com/sells-group/crmboard/pkg/kommo"
)

// env bundles the wired application dependencies for one CRM connection.
type env struct {
	Store      store.Store
	Client     *kommo.Client
	Aggregator *analytics.Aggregator
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// tokenSaver persists refreshed token pairs back into the connection store.
type tokenSaver struct {
	store  store.Store
	domain string
}

func (s *tokenSaver) SaveTokens(ctx context.Context, ts kommo.TokenState) error {
	return s.store.UpdateTokens(ctx, s.domain, ts.AccessToken, ts.RefreshToken, ts.ExpiresAt)
}

func openStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, store.Options{
		Driver:      cfg.Store.Driver,
		DatabaseURL: cfg.Store.DatabaseURL,
	})
}

// initEnv opens the connection store, loads the configured connection and
// wires the CRM client and aggregator. Returns kommo.ErrNotConfigured when
// no connection exists for the configured domain.
func initEnv(ctx context.Context) (*env, error) {
	if cfg.Kommo.Domain == "" {
		return nil, kommo.ErrNotConfigured
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := st.GetConnection(ctx, cfg.Kommo.Domain)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	if conn == nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(kommo.ErrNotConfigured, cfg.Kommo.Domain)
	}

	ttl := time.Duration(cfg.Cache.TTLMins) * time.Minute
	leadCache := cache.New[[]kommo.Lead](ttl, cfg.Cache.MaxEntries)
	resultCache := cache.New[*analytics.Analytics](ttl, cfg.Cache.MaxEntries)

	client := kommo.NewClient(kommo.Config{
		Domain:       conn.Domain,
		ClientID:     conn.ClientID,
		ClientSecret: conn.ClientSecret,
		RedirectURI:  conn.RedirectURI,
		Tokens: kommo.TokenState{
			AccessToken:  conn.AccessToken,
			RefreshToken: conn.RefreshToken,
			ExpiresAt:    conn.ExpiresAt,
		},
	},
		kommo.WithRateLimit(cfg.Kommo.RateLimitRPS),
		kommo.WithLeadCache(leadCache),
		kommo.WithTokenPersister(&tokenSaver{store: st, domain: conn.Domain}),
	)

	agg := analytics.NewAggregator(client,
		analytics.WithStages(cfg.Analytics.Stages),
		analytics.WithResultCache(resultCache),
	)

	return &env{Store: st, Client: client, Aggregator: agg}, nil
}
