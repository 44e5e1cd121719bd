package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"qtable-tenant/internal/audit"
	"qtable-tenant/internal/authn"
	"qtable-tenant/internal/commerce"
	"qtable-tenant/internal/config"
	"qtable-tenant/internal/events"
	"qtable-tenant/internal/httpapi"
	"qtable-tenant/internal/lifecycle"
	"qtable-tenant/internal/logger"
	"qtable-tenant/internal/repository"
	"qtable-tenant/internal/resolver"
	"qtable-tenant/internal/service"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis：解析缓存 + 会话 + 事件流。连不上就全部退回内存实现
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		c := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := c.Ping(ctx).Err(); err != nil {
			log.Warn("Redis enabled but unreachable, falling back to in-memory cache/sessions/bus", zap.Error(err))
			_ = c.Close()
		} else {
			redisClient = c
		}
	}

	// 仓库层：优先 PostgreSQL，本地开发无 DB 时退回内存实现
	var (
		db          *sql.DB
		tenantsRepo repository.TenantsRepository
		domainsRepo repository.DomainsRepository
		auditRepo   repository.AuditRepository
	)
	if cfg.DBEnabled {
		if d, err := repository.OpenPostgres(cfg.Database); err == nil {
			db = d
			log.Info("DB enabled for qtable-tenant")
		} else {
			log.Warn("DB enabled but connection failed, falling back to in-memory repositories", zap.Error(err))
		}
	}
	if db != nil {
		tenantsRepo = repository.NewPostgresTenantsRepository(db)
		domainsRepo = repository.NewPostgresDomainsRepository(db)
		auditRepo = repository.NewPostgresAuditRepository(db)
	} else {
		memDomains := repository.NewMemoryDomainsRepository()
		tenantsRepo = repository.NewMemoryTenantsRepository(memDomains)
		domainsRepo = memDomains
		auditRepo = repository.NewMemoryAuditRepository()
	}

	recorder := audit.NewRecorder(auditRepo, log)

	// 事件总线：审计订阅生命周期事件流
	var bus events.Bus
	if redisClient != nil {
		redisBus := events.NewRedisBus(redisClient, "tenant-lifecycle", "audit", log)
		bus = redisBus
		consumer, _ := os.Hostname()
		if consumer == "" {
			consumer = "qtable-tenant"
		}
		go func() {
			if err := redisBus.Run(ctx, consumer); err != nil && ctx.Err() == nil {
				log.Error("Lifecycle event consumer stopped", zap.Error(err))
			}
		}()
	} else {
		bus = events.NewMemoryBus()
	}
	recorder.SubscribeLifecycle(bus)

	// 租户解析器
	var resolveCache resolver.Cache
	if redisClient != nil {
		resolveCache = resolver.NewRedisCache(redisClient)
	} else {
		resolveCache = resolver.NewMemoryCache()
	}
	res := resolver.NewResolver(
		tenantsRepo,
		resolveCache,
		time.Duration(cfg.Resolver.TTLSeconds)*time.Second,
		time.Duration(cfg.Resolver.NegativeTTLSeconds)*time.Second,
		log,
	)

	commerceClient := commerce.NewRestClient(cfg.Commerce.APIURL, cfg.Commerce.APIToken, log)
	manager := lifecycle.NewManager(tenantsRepo, domainsRepo, commerceClient, res, bus, log)

	// 宽限期推进 + 到期清除 + 孤儿 channel 对账
	if !cfg.Lifecycle.SchedulerDisabled {
		scheduler := lifecycle.NewScheduler(
			manager,
			tenantsRepo,
			commerceClient,
			recorder,
			time.Duration(cfg.Lifecycle.GracePeriodDays)*24*time.Hour,
			time.Duration(cfg.Lifecycle.PurgeWindowDays)*24*time.Hour,
			time.Duration(cfg.Lifecycle.PurgeIntervalHrs)*time.Hour,
			log,
		)
		go func() {
			if err := scheduler.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error("Lifecycle scheduler stopped", zap.Error(err))
			}
		}()
	}

	// 会话
	var sessions authn.SessionStore
	if redisClient != nil {
		sessions = authn.NewRedisSessionStore(redisClient)
	} else {
		sessions = authn.NewMemorySessionStore()
	}
	// Dev bootstrap：给定 token 播种一个 SuperAdmin 会话，平台 API 才有第一个调用方
	if cfg.SeedSysadmin != "" {
		p := &authn.Principal{
			UserID:       "sysadmin",
			ChannelToken: cfg.Commerce.DefaultChannelToken,
			Role:         authn.RoleSuperAdmin,
		}
		if err := sessions.Put(ctx, cfg.SeedSysadmin, p, 24*time.Hour); err != nil {
			log.Warn("Failed to seed sysadmin session", zap.Error(err))
		}
	}

	router := httpapi.NewRouter(log)
	router.RegisterHealthRoutes()
	router.RegisterPlatformTenantRoutes(httpapi.NewTenantsHandler(tenantsRepo, domainsRepo, manager, log))
	router.RegisterPlatformAuditRoutes(httpapi.NewAuditHandler(recorder, log))
	router.RegisterShopRoutes(httpapi.NewShopHandler(tenantsRepo, log))

	gate := httpapi.NewTenantGate(res, recorder, cfg.Resolver.BypassHosts, cfg.Resolver.FailClosed, log)
	auth := httpapi.NewAuthMiddleware(sessions, log)
	guard := httpapi.NewPostAuthGuard(tenantsRepo, recorder, cfg.Commerce.DefaultChannelToken, log)

	// Stage A 绑定必须先于认证，Stage B 守卫必须后于认证
	handler := httpapi.Chain(gate.Middleware, auth.Middleware, guard.Middleware)(router)

	srv := service.NewServer(cfg.HTTP.Addr, handler, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cancel()
	case <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}
