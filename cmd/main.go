package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fjod/go_cart/cart-service/internal/cache"
	"github.com/fjod/go_cart/cart-service/internal/config"
	"github.com/fjod/go_cart/cart-service/internal/expiration"
	carthttp "github.com/fjod/go_cart/cart-service/internal/http"
	"github.com/fjod/go_cart/cart-service/internal/logger"
	"github.com/fjod/go_cart/cart-service/internal/lookup"
	"github.com/fjod/go_cart/cart-service/internal/poller"
	"github.com/fjod/go_cart/cart-service/internal/pricing"
	"github.com/fjod/go_cart/cart-service/internal/service"
	"github.com/fjod/go_cart/cart-service/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// cartStore is what the service and the expiration scheduler need from storage.
type cartStore interface {
	store.CartStore
	store.Scanner
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := store.ConnectRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClient.Close()
	log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis ping succeeded")

	carts, closeStore := openStore(ctx, cfg, redisClient)
	defer closeStore()

	products, inventory := openLookups(cfg)
	calc := pricing.NewCalculator(cfg.Pricing, pricing.FromConfig(cfg.Pricing.BulkDiscountMinQuantity, cfg.Pricing.BulkDiscountRate))
	cartService := service.NewCartService(carts, products, inventory, calc, cfg.Cart, service.WithReadTimeout(cfg.RequestTimeout))

	if cfg.JWT.SecretKey == "" {
		log.Warn().Msg("JWT_SECRET_KEY is empty, every authenticated request will be rejected")
	}
	handler := carthttp.NewCartHandler(cartService, cfg.RequestTimeout)
	router := carthttp.NewRouter(handler, carthttp.RouterConfig{
		Auth:      carthttp.JWTAuthMiddleware(cfg.JWT),
		RateLimit: carthttp.RateLimitMiddleware(redisClient, cfg.RateLimit),
		Checks: map[string]carthttp.HealthCheck{
			"store": carts.Ping,
			"products": func(ctx context.Context) error {
				_, err := products.BatchGet(ctx, nil)
				return err
			},
		},
	})
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to listen")
	}
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("cart-service", healthpb.HealthCheckResponse_SERVING)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(grpcServer)

	var wg sync.WaitGroup

	checkoutPoller := poller.NewPoller(cartService, cfg.Kafka.CheckoutTopic, cfg.Kafka.ConsumerGroup, cfg.Kafka.Brokers...)
	defer checkoutPoller.Close()
	wg.Add(1)
	go func() {
		defer wg.Done()
		checkoutPoller.Run(ctx)
	}()

	if cfg.Expiration.Enabled {
		publisher := expiration.NewKafkaPublisher(cfg.Kafka.ExpirationTopic, cfg.Kafka.Brokers...)
		defer publisher.Close()
		scheduler := expiration.NewScheduler(carts, products, publisher, redisClient, cfg.Expiration.WarningDays, cfg.Expiration.CheckInterval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Run(ctx)
		}()
	}

	go func() {
		log.Info().Str("port", cfg.GRPCPort).Msg("gRPC health server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("Failed to serve gRPC")
		}
	}()
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("Cart service listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to serve HTTP")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down cart service...")
	healthServer.SetServingStatus("cart-service", healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	grpcServer.GracefulStop()
	wg.Wait()
	log.Info().Msg("Cart service stopped")
}

// openStore returns the configured cart store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (cartStore, func()) {
	lifetime := cfg.Cart.Lifetime()
	if cfg.Store.Backend != "mongo" {
		log.Info().Msg("Using Redis cart store")
		return store.NewRedisStore(redisClient, lifetime), func() {}
	}

	mongoDB, err := store.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	mongoStore := store.NewMongoStore(mongoDB)
	if err := mongoStore.CreateIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to create MongoDB indexes")
	}
	log.Info().Str("uri", cfg.Mongo.URI).Msg("Connected to MongoDB")

	closeFn := func() {
		if err := mongoDB.Client().Disconnect(context.Background()); err != nil {
			log.Error().Err(err).Msg("MongoDB disconnect failed")
		}
	}
	return store.NewCachedStore(mongoStore, cache.NewRedisCache(redisClient)), closeFn
}

// openLookups builds resilient product and inventory clients, discovered
// through Consul when CONSUL_ADDR is set.
func openLookups(cfg *config.Config) (*lookup.Resilient, *lookup.Resilient) {
	var productResolver, inventoryResolver lookup.Resolver = lookup.StaticResolver(cfg.Lookup.ProductServiceURL), lookup.StaticResolver(cfg.Lookup.InventoryServiceURL)
	if cfg.Lookup.ConsulAddr != "" {
		consul, err := lookup.NewConsulClient(cfg.Lookup.ConsulAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Consul client")
		}
		productResolver = lookup.NewConsulResolver(consul, "product-service")
		inventoryResolver = lookup.NewConsulResolver(consul, "inventory-service")
		log.Info().Str("addr", cfg.Lookup.ConsulAddr).Msg("Resolving collaborators through Consul")
	}

	policy := lookup.RetryPolicy{MaxRetries: cfg.Lookup.Retries, BaseDelay: cfg.Lookup.RetryDelay}
	resilient := lookup.NewResilient(
		lookup.NewProductClient(productResolver, policy, nil),
		lookup.NewInventoryClient(inventoryResolver, policy, nil),
		cfg.Lookup.Timeout,
		lookup.BreakerSettings{},
	)
	return resilient, resilient
}
