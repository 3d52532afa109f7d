package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"goim-channel/apps/channel-service/dao"
	"goim-channel/apps/channel-service/handler"
	"goim-channel/apps/channel-service/hub"
	"goim-channel/apps/channel-service/service"
	"goim-channel/pkg/config"
	"goim-channel/pkg/keylock"
	"goim-channel/pkg/lifecycle"
	"goim-channel/pkg/logger"
	"goim-channel/pkg/redis"
	"goim-channel/pkg/server"
	"goim-channel/pkg/snowflake"
)

// store 一组数据访问对象
type store struct {
	channels      dao.ChannelDAO
	messages      dao.MessageDAO
	notifications dao.NotificationDAO
	users         dao.UserDAO
	audit         dao.AuditDAO
}

func main() {
	// 创建应用程序
	app, err := server.NewApplication("channel-service")
	if err != nil {
		panic("Failed to create application: " + err.Error())
	}
	cfg := app.GetConfig()
	log := app.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 启用HTTP服务器
	app.EnableHTTP()

	// 初始化存储
	st := openStore(ctx, app)

	// Redis 仅在分布式锁、跨实例广播或用户缓存需要时连接
	var redisClient *redis.RedisClient
	if cfg.Channel.LockBackend == config.BackendRedis || cfg.Channel.BroadcastBackend == config.BackendRedis || cfg.Channel.UserCacheTTL > 0 {
		redisClient, err = app.GetRedisClient(ctx)
		if err != nil {
			if cfg.Channel.LockBackend == config.BackendRedis || cfg.Channel.BroadcastBackend == config.BackendRedis {
				panic("Failed to connect redis: " + err.Error())
			}
			log.Warn(ctx, "Redis unavailable, user cache disabled", logger.F("error", err.Error()))
		}
	}

	// 键锁
	var locker keylock.Locker = keylock.NewLocalLocker()
	if cfg.Channel.LockBackend == config.BackendRedis {
		locker = keylock.NewRedisLocker(redisClient, "lock:", cfg.Channel.LockTTL, log)
	}

	// 通知投递
	var producer service.Enqueuer
	if cfg.Kafka.Enabled {
		kafkaProducer, err := app.GetKafkaProducer()
		if err != nil {
			panic("Failed to create kafka producer: " + err.Error())
		}
		producer = kafkaProducer
	}
	notifier := service.NewNotifier(st.notifications, producer, cfg.Kafka.NotificationTopic, log)

	// 实时推送
	seq, err := snowflake.NewSnowflake(cfg.Channel.MachineID)
	if err != nil {
		panic("Failed to create snowflake: " + err.Error())
	}
	channelHub := hub.NewHub(seq, log)

	var broadcaster service.Broadcaster = channelHub
	if cfg.Channel.BroadcastBackend == config.BackendRedis {
		relay := hub.NewRedisRelay(channelHub, redisClient, cfg.Channel.WSSendBuffer, log)
		app.AddHook(lifecycle.Hook{
			Name:     "redis-relay",
			Priority: server.PriorityBackground,
			OnStart:  relay.Start,
			OnStop:   relay.Stop,
		})
		broadcaster = relay
	}

	// 初始化Service层
	svc := service.NewService(service.Dependencies{
		Channels:    st.channels,
		Messages:    st.messages,
		Notifier:    notifier,
		Users:       service.NewUserDirectory(st.users, redisClient, cfg.Channel.UserCacheTTL, log),
		Audit:       st.audit,
		Broadcaster: broadcaster,
		Locker:      locker,
	}, service.Options{
		ReportThreshold: cfg.Channel.ReportThreshold,
		ConflictRetries: cfg.Channel.ConflictRetries,
		SuperAdminID:    cfg.App.SuperAdminID,
		OpTimeout:       cfg.Channel.OpTimeout,
	}, log)

	// 初始化Handler
	httpHandler := handler.NewHTTPHandler(svc, log)
	wsHandler := handler.NewWSHandler(channelHub, cfg.Channel.WSSendBuffer, log)

	// 注册HTTP路由
	app.RegisterHTTPRoutes(func(engine *gin.Engine) {
		httpHandler.RegisterRoutes(engine)
	})
	if err := app.RegisterWebSocket(handler.WSPath, wsHandler, channelHub.Close); err != nil {
		panic("Failed to register websocket: " + err.Error())
	}

	// 运行应用程序
	if err := app.Run(); err != nil {
		panic(err)
	}
}

// openStore 按配置选择存储驱动，审计日志独立于存储驱动
func openStore(ctx context.Context, app *server.Application) store {
	cfg := app.GetConfig()
	var st store

	switch cfg.Channel.StorageDriver {
	case config.StorageMongo:
		mongoDB, err := app.GetMongoDB(ctx)
		if err != nil {
			panic("Failed to connect mongodb: " + err.Error())
		}
		if err := dao.EnsureIndexes(ctx, mongoDB); err != nil {
			panic("Failed to create indexes: " + err.Error())
		}
		st = store{
			channels:      dao.NewMongoChannelDAO(mongoDB),
			messages:      dao.NewMongoMessageDAO(mongoDB),
			notifications: dao.NewMongoNotificationDAO(mongoDB),
			users:         dao.NewMongoUserDAO(mongoDB),
		}
	default:
		mem := dao.NewMemoryStore()
		st = store{
			channels:      mem,
			messages:      mem,
			notifications: mem,
			users:         mem,
			audit:         mem,
		}
	}

	if cfg.Database.PostgreSQL.Enabled {
		postgreSQL, err := app.GetPostgreSQL(ctx)
		if err != nil {
			panic("Failed to connect postgresql: " + err.Error())
		}
		if err := dao.MigrateAudit(postgreSQL); err != nil {
			panic("Failed to migrate database: " + err.Error())
		}
		st.audit = dao.NewAuditDAO(postgreSQL)
	}
	return st
}
