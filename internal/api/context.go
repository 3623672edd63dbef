package api

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clefregistry/clef/internal/auth"
	"github.com/clefregistry/clef/internal/composer"
	"github.com/clefregistry/clef/internal/config"
	"github.com/clefregistry/clef/internal/database"
	"github.com/clefregistry/clef/internal/hotcache"
	"github.com/clefregistry/clef/internal/metadatacache"
	"github.com/clefregistry/clef/internal/tarballcache"
	"github.com/clefregistry/clef/internal/upstream"
)

// upstreamTimeout and upstreamRequestsPerSecond realize SPEC_FULL §6's
// rate-limited upstream HTTP client: a 30s client timeout and a 10 req/s
// token bucket (burst 20, the package default) shared across all requests.
const (
	upstreamTimeout           = 30 * time.Second
	upstreamRequestsPerSecond = 10
)

// AppContext is the narrow set of subsystems every handler in this package
// needs, replacing the teacher's monolithic Server struct (forty-odd
// service/handler fields accreted over many unrelated features) with the
// nine this registry actually has.
type AppContext struct {
	Config   *config.Config
	Log      *logrus.Logger
	DB       *database.Store
	Tarballs *tarballcache.Store
	Metadata *metadatacache.Store
	Hot      *hotcache.Store
	Upstream *upstream.Client
	Composer *composer.Composer
	Auth     *auth.Service
}

// NewAppContext wires the subsystems together from an already-loaded
// config and already-opened database handle.
func NewAppContext(cfg *config.Config, log *logrus.Logger, db *database.Store) (*AppContext, error) {
	tarballs := tarballcache.New(cfg.CacheDir)
	ttl := time.Duration(cfg.CacheTTLHours) * time.Hour
	metadata := metadatacache.New(cfg.CacheDir, ttl, db)

	hot, err := hotcache.New(cfg.RedisURL, 0)
	if err != nil {
		return nil, err
	}

	up := upstream.New(cfg.UpstreamRegistry, upstreamTimeout, upstreamRequestsPerSecond)
	comp := composer.New(db, metadata, hot, up, cfg.Scheme, cfg.Host, cfg.Port)

	return &AppContext{
		Config:   cfg,
		Log:      log,
		DB:       db,
		Tarballs: tarballs,
		Metadata: metadata,
		Hot:      hot,
		Upstream: up,
		Composer: comp,
		Auth:     auth.New(db),
	}, nil
}
