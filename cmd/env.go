package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/canlidar/internal/boundary"
	"github.com/sells-group/canlidar/internal/catalog"
	"github.com/sells-group/canlidar/internal/config"
	"github.com/sells-group/canlidar/internal/fetcher"
	"github.com/sells-group/canlidar/internal/pdal"
	"github.com/sells-group/canlidar/internal/query"
	"github.com/sells-group/canlidar/internal/resolver"
	"github.com/sells-group/canlidar/internal/retrieve"
	"github.com/sells-group/canlidar/internal/spatial"
	"github.com/sells-group/canlidar/internal/store"
	"github.com/sells-group/canlidar/pkg/geocode"
)

// resolverAPI is the part of *resolver.Resolver the commands use.
type resolverAPI interface {
	Resolve(ctx context.Context, q spatial.QueryGeometry, targetYear *int) (*resolver.QueryResult, error)
}

// appEnv holds the collaborators shared by every command.
type appEnv struct {
	Deps     query.Deps
	Resolver resolverAPI
	Store    store.Store // nil when history is disabled
	Runner   *retrieve.Runner
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv wires the catalog, geocoder, boundaries and (optionally) the
// history store from cfg. withStore=false skips the store.
func initEnv(ctx context.Context, c *config.Config, withStore bool) (*appEnv, error) {
	catalogCRS, err := spatial.ParseCRS(c.Catalog.CRS)
	if err != nil {
		return nil, eris.Wrap(err, "init: catalog crs")
	}
	boundaryCRS, err := spatial.ParseCRS(c.Boundaries.CRS)
	if err != nil {
		return nil, eris.Wrap(err, "init: boundaries crs")
	}

	gc, err := initGeocoder(c.Geocode)
	if err != nil {
		return nil, err
	}

	loader := catalog.NewShapefileLoader(c.Catalog.Path,
		catalog.WithCRS(catalogCRS),
		catalog.WithFields(c.Catalog.Fields),
	)

	env := &appEnv{
		Deps: query.Deps{
			Geocoder:   gc,
			Boundaries: boundary.NewShapefileProvider(c.Boundaries.Path, boundaryCRS, c.Boundaries.NameFields),
		},
		Resolver: resolver.New(loader, gc),
		Runner:   initRunner(c),
	}

	if withStore && c.Store.Driver != "" {
		st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
		if err != nil {
			return nil, eris.Wrap(err, "init: history store")
		}
		env.Store = st
	}
	return env, nil
}

// initGeocoder builds the provider cascade with its cache. Redis is used
// when configured, otherwise an in-process LRU.
func initGeocoder(gc config.GeocodeConfig) (*geocode.Cascade, error) {
	var providers []geocode.Provider
	nominatim := func() geocode.Provider {
		return geocode.NewNominatim(
			geocode.WithBaseURL(gc.NominatimURL),
			geocode.WithUserAgent(gc.UserAgent),
			geocode.WithRateLimit(gc.RateLimit),
		)
	}
	google := func() geocode.Provider {
		return geocode.NewGoogle(geocode.WithAPIKey(gc.GoogleAPIKey))
	}
	switch gc.Provider {
	case "", "nominatim":
		providers = append(providers, nominatim())
	case "google":
		providers = append(providers, google())
	case "cascade":
		providers = append(providers, nominatim())
		if gc.GoogleAPIKey != "" {
			providers = append(providers, google())
		}
	default:
		return nil, eris.Errorf("init: unknown geocode provider %q", gc.Provider)
	}

	var cache geocode.Cache
	if gc.RedisAddr != "" {
		cache = geocode.OpenRedis(gc.RedisAddr, gc.RedisPassword)
		zap.L().Debug("geocode cache: redis", zap.String("addr", gc.RedisAddr))
	} else {
		cache = geocode.NewMemoryCache(gc.CacheSize)
	}

	return geocode.NewCascade(providers,
		geocode.WithCache(cache, gc.CacheTTL()),
		geocode.WithRetry(gc.Retry),
		geocode.WithBreakers(gc.Breaker),
	), nil
}

func initRunner(c *config.Config) *retrieve.Runner {
	timeout := time.Duration(c.Download.TimeoutSecs) * time.Second
	httpF := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:   c.Geocode.UserAgent,
		Timeout:     timeout,
		MaxRetries:  c.Download.MaxRetries,
		RatePerHost: c.Download.RatePerHost,
	})
	ftpF := fetcher.NewFTPFetcher(fetcher.FTPOptions{
		Timeout:  timeout,
		User:     c.Download.FTPUser,
		Password: c.Download.FTPPassword,
	})
	bulk := fetcher.NewBulk(httpF, ftpF, fetcher.BulkOptions{
		Concurrency: c.Download.Concurrency,
		Overwrite:   c.Download.Overwrite,
	})
	return retrieve.New(pdal.NewCLI(c.PDAL.BinPath), bulk)
}
