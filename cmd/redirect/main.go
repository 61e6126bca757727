package main

import (
	"context"
	"log"
	stdhttp "net/http"

	"shortlink/pkg/analytics"
	"shortlink/pkg/cache"
	"shortlink/pkg/config"
	"shortlink/pkg/geo"
	httphandler "shortlink/pkg/http"
	"shortlink/pkg/logging"
	"shortlink/pkg/redirect"
	"shortlink/pkg/storage"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oschwald/geoip2-golang"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(logging.LogLevel(cfg.LogLevel))

	// DB connection
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	// Redis connection
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal(err)
	}
	redisClient := redis.NewClient(opt)
	defer redisClient.Close()

	redirectCache := cache.NewRedirectCache(redisClient)
	linkStorage := storage.NewPostgresLinkStorage(pool)
	clickStorage := storage.NewPostgresClickStorage(pool)

	var geoDB *geoip2.Reader
	if cfg.GeoIPDBPath != "" {
		geoDB, err = geoip2.Open(cfg.GeoIPDBPath)
		if err != nil {
			log.Fatal(err)
		}
		defer geoDB.Close()
	}
	geoResolver := geo.NewResolver(geoDB)

	recorder := analytics.NewRecorder(linkStorage, clickStorage, redirectCache, geoResolver, logger, cfg.ClickWorkers, cfg.ClickQueueLen)
	defer recorder.Close()

	resolver := redirect.NewResolver(linkStorage, redirectCache, recorder, logger, cfg.CacheTTL)

	// The redirect binary serves only the hot path; CRUD, auth and
	// analytics reads stay on the API binary.
	handler := httphandler.NewHandler(nil, resolver, nil, nil, nil, logger)

	r := chi.NewRouter()
	httphandler.SetupRedirectRoutes(r, handler)

	log.Println("Starting redirect server on :" + cfg.RedirectPort)
	log.Fatal(stdhttp.ListenAndServe(":"+cfg.RedirectPort, r))
}
