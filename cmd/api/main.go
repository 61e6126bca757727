package main

import (
	"context"
	"log"
	stdhttp "net/http"

	"shortlink/pkg/analytics"
	"shortlink/pkg/auth"
	"shortlink/pkg/cache"
	"shortlink/pkg/config"
	"shortlink/pkg/geo"
	"shortlink/pkg/http"
	"shortlink/pkg/logging"
	"shortlink/pkg/middleware"
	"shortlink/pkg/ratelimit"
	"shortlink/pkg/redirect"
	"shortlink/pkg/service"
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

	// Cache
	redirectCache := cache.NewRedirectCache(redisClient)

	// Storage
	linkStorage := storage.NewPostgresLinkStorage(pool)
	clickStorage := storage.NewPostgresClickStorage(pool)
	userStorage := storage.NewPostgresUserStorage(pool)

	// Geo lookup is optional; without a database file country stays null.
	var geoDB *geoip2.Reader
	if cfg.GeoIPDBPath != "" {
		geoDB, err = geoip2.Open(cfg.GeoIPDBPath)
		if err != nil {
			log.Fatal(err)
		}
		defer geoDB.Close()
	}
	geoResolver := geo.NewResolver(geoDB)

	// Click recorder
	recorder := analytics.NewRecorder(linkStorage, clickStorage, redirectCache, geoResolver, logger, cfg.ClickWorkers, cfg.ClickQueueLen)
	defer recorder.Close()

	// Services
	resolver := redirect.NewResolver(linkStorage, redirectCache, recorder, logger, cfg.CacheTTL)
	limiter := ratelimit.NewLimiter(redisClient)
	linkService := service.NewLinkService(linkStorage, redirectCache, limiter, logger, cfg.CacheTTL, cfg.BaseURL)
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	authService := auth.NewService(userStorage, authMiddleware)
	queries := analytics.NewQueries(pool)

	// Handler
	handler := http.NewHandler(linkService, resolver, authService, queries, clickStorage, logger)

	// Router
	r := chi.NewRouter()
	http.SetupRoutes(r, handler, authMiddleware)

	// Server
	log.Println("Starting API server on :" + cfg.Port)
	log.Fatal(stdhttp.ListenAndServe(":"+cfg.Port, r))
}
