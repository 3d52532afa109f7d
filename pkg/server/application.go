package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"goim-channel/pkg/auth"
	"goim-channel/pkg/config"
	"goim-channel/pkg/database"
	"goim-channel/pkg/kafka"
	"goim-channel/pkg/lifecycle"
	"goim-channel/pkg/logger"
	"goim-channel/pkg/middleware"
	"goim-channel/pkg/redis"
	"goim-channel/pkg/telemetry"
)

// 生命周期钩子优先级
const (
	PriorityInfrastructure = 10
	PriorityBackground     = 50
	PriorityServers        = 100
	PriorityWebSocket      = 110
)

// Application 应用程序框架
// 基础设施按需连接，连接成功后自动注册关闭钩子
type Application struct {
	serviceName    string
	config         *config.Config
	logger         kratoslog.Logger
	originalLogger logger.Logger
	serverManager  *ServerManager
	lifecycle      *lifecycle.LifecycleManager

	mu            sync.Mutex
	mongoDB       *database.MongoDB
	postgreSQL    *database.PostgreSQL
	redisClient   *redis.RedisClient
	kafkaProducer *kafka.Producer
	wsServer      *WebSocketServerWrapper

	authMiddleware    *middleware.AuthMiddleware
	loggingMiddleware *middleware.LoggingMiddleware
	otelMiddleware    *middleware.OTelMiddleware

	httpRouteRegister func(*gin.Engine)
	healthChecks      map[string]HealthCheck
}

// NewApplication 创建应用程序
func NewApplication(serviceName string) (*Application, error) {
	cfg, err := config.LoadConfig(serviceName)
	if err != nil {
		return nil, err
	}

	originalLogger, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	kratosLogger := logger.NewKratosLogger(originalLogger, cfg.App.Name, cfg.App.Version)

	app := &Application{
		serviceName:       serviceName,
		config:            cfg,
		logger:            kratosLogger,
		originalLogger:    originalLogger,
		serverManager:     NewServerManager(cfg, kratosLogger),
		lifecycle:         lifecycle.NewLifecycleManager(kratosLogger),
		authMiddleware:    middleware.NewAuthMiddleware(kratosLogger, &auth.JWTConfig{Secret: cfg.App.JWTSecret}),
		loggingMiddleware: middleware.NewLoggingMiddleware(kratosLogger),
		otelMiddleware:    middleware.NewOTelMiddleware(serviceName),
		healthChecks:      make(map[string]HealthCheck),
	}

	if cfg.Telemetry.Enabled {
		tcfg := telemetry.DefaultConfig(serviceName)
		tcfg.ServiceVersion = cfg.App.Version
		tcfg.SampleRate = cfg.Telemetry.SampleRate
		if err := telemetry.InitGlobal(tcfg); err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		app.AddHook(lifecycle.Hook{
			Name:     "telemetry",
			Priority: PriorityInfrastructure,
			OnStop:   telemetry.ShutdownGlobal,
		})
	}

	return app, nil
}

// AddHook 注册生命周期钩子
func (app *Application) AddHook(hook lifecycle.Hook) {
	app.lifecycle.AddHook(hook)
}

// track 连接建立后注册关闭钩子和健康检查，调用方持有 app.mu
func (app *Application) track(name string, closeFn func() error, check HealthCheck) {
	if check != nil {
		app.healthChecks[name] = check
		if httpServer := app.serverManager.GetHTTPServer(); httpServer != nil {
			httpServer.AddHealthCheck(name, check)
		}
	}
	app.AddHook(lifecycle.Hook{
		Name:     name,
		Priority: PriorityInfrastructure,
		OnStop: func(ctx context.Context) error {
			if err := closeFn(); err != nil {
				app.logger.Log(kratoslog.LevelError, "msg", "Failed to close "+name, "error", err)
				return err
			}
			return nil
		},
	})
}

// GetMongoDB 获取MongoDB连接，首次调用时建立
func (app *Application) GetMongoDB(ctx context.Context) (*database.MongoDB, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.mongoDB != nil {
		return app.mongoDB, nil
	}
	mongoDB, err := database.NewMongoDB(ctx, app.config.Database.MongoDB.URI, app.config.Database.MongoDB.DBName)
	if err != nil {
		return nil, err
	}
	app.mongoDB = mongoDB
	app.track("mongodb", mongoDB.Close, mongoDB.Health)
	return mongoDB, nil
}

// GetPostgreSQL 获取PostgreSQL连接，首次调用时建立
func (app *Application) GetPostgreSQL(ctx context.Context) (*database.PostgreSQL, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.postgreSQL != nil {
		return app.postgreSQL, nil
	}
	pg, err := database.NewPostgreSQL(ctx, app.config.Database.PostgreSQL.DSN, app.config.Database.PostgreSQL.DBName)
	if err != nil {
		return nil, err
	}
	app.postgreSQL = pg
	app.track("postgresql", pg.Close, pg.Health)
	return pg, nil
}

// GetRedisClient 获取Redis客户端，首次调用时连接并检查可用性
func (app *Application) GetRedisClient(ctx context.Context) (*redis.RedisClient, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.redisClient != nil {
		return app.redisClient, nil
	}
	client := redis.NewRedisClient(app.config.Redis.Addr, app.config.Redis.Password, app.config.Redis.DB)
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", app.config.Redis.Addr, err)
	}
	app.redisClient = client
	app.track("redis", client.Close, client.Ping)
	return client, nil
}

// GetKafkaProducer 获取Kafka生产者，首次调用时创建
func (app *Application) GetKafkaProducer() (*kafka.Producer, error) {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.kafkaProducer != nil {
		return app.kafkaProducer, nil
	}
	producer, err := kafka.InitProducer(app.config.Kafka.Brokers, func(topic string, err error) {
		app.logger.Log(kratoslog.LevelError, "msg", "Kafka delivery failed", "topic", topic, "error", err)
	})
	if err != nil {
		return nil, err
	}
	app.kafkaProducer = producer
	app.track("kafka", producer.Close, nil)
	return producer, nil
}

// EnableHTTP 启用HTTP服务器并挂载公共中间件
func (app *Application) EnableHTTP() HTTPServer {
	httpServer := app.serverManager.EnableHTTP()

	app.mu.Lock()
	for name, check := range app.healthChecks {
		httpServer.AddHealthCheck(name, check)
	}
	app.mu.Unlock()

	httpServer.RegisterRoutes(func(engine *gin.Engine) {
		engine.Use(middleware.RequestID())
		if app.config.Telemetry.Enabled {
			engine.Use(app.otelMiddleware.GinMiddleware())
		}
		engine.Use(app.loggingMiddleware.GinLogging())
		engine.Use(app.loggingMiddleware.GinRecovery())
		engine.Use(app.authMiddleware.GinAuth())
		engine.Use(app.otelMiddleware.Enrich())
	})

	return httpServer
}

// RegisterHTTPRoutes 注册HTTP路由
func (app *Application) RegisterHTTPRoutes(registerFunc func(*gin.Engine)) {
	app.httpRouteRegister = registerFunc
}

// RegisterWebSocket 在HTTP服务器上注册WebSocket入口，onStop 在关闭时执行
func (app *Application) RegisterWebSocket(path string, handler WebSocketHandler, onStop func()) error {
	httpServer := app.serverManager.GetHTTPServer()
	if httpServer == nil {
		return fmt.Errorf("HTTP server not enabled")
	}
	if app.wsServer == nil {
		app.wsServer = NewWebSocketServerWrapper(httpServer.GetEngine(), app.logger)
		app.AddHook(lifecycle.Hook{
			Name:     "websocket",
			Priority: PriorityWebSocket,
			OnStart:  app.wsServer.Start,
			OnStop:   app.wsServer.Stop,
		})
	}
	app.wsServer.RegisterHandler(path, handler)
	if onStop != nil {
		app.wsServer.OnStop(onStop)
	}
	return nil
}

// GetLogger 获取业务日志器
func (app *Application) GetLogger() logger.Logger {
	return app.originalLogger
}

// GetConfig 获取配置
func (app *Application) GetConfig() *config.Config {
	return app.config
}

// Run 运行应用程序，阻塞直到收到停止信号
func (app *Application) Run() error {
	if app.httpRouteRegister != nil {
		if err := app.serverManager.RegisterHTTPRoutes(app.httpRouteRegister); err != nil {
			return err
		}
	}

	app.AddHook(lifecycle.Hook{
		Name:     "servers",
		Priority: PriorityServers,
		OnStart: func(ctx context.Context) error {
			return app.serverManager.StartAll(ctx, func(err error) {
				go app.lifecycle.Stop()
			})
		},
		OnStop: app.serverManager.StopAll,
	})

	if err := app.lifecycle.Start(); err != nil {
		app.lifecycle.Stop()
		return fmt.Errorf("failed to start lifecycle: %w", err)
	}

	app.lifecycle.Wait()
	return nil
}
