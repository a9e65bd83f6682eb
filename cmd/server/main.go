package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"newsdesk/db/migrations"
	"newsdesk/internal/api"
	"newsdesk/internal/config"
	"newsdesk/internal/database"
	"newsdesk/internal/event"
	"newsdesk/internal/graphql"
	"newsdesk/internal/logging"
	"newsdesk/internal/media"
	"newsdesk/internal/middleware"
	migrator "newsdesk/internal/migrations"
	"newsdesk/internal/repository/postgres"
	"newsdesk/internal/storage"
	"newsdesk/internal/storage/local"
	miniostorage "newsdesk/internal/storage/minio"
	s3storage "newsdesk/internal/storage/s3"
	"newsdesk/internal/telemetry"
	"newsdesk/internal/workflow"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func main() {
	// .env 只用于本地开发，缺失时忽略
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("newsdesk", "info")
		boot.Fatal().Err(err).Msg("load config")
	}

	log := logging.New(cfg.ServiceName, cfg.LogLevel)
	log.Info().Msg("配置加载完成，开始启动服务")

	shutdownTracer, err := telemetry.Init(cfg.ServiceName, cfg.EnableTracing)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := event.Connect(cfg.NATSURL, log)

	var mediaOpts []media.Option
	mediaOpts = append(mediaOpts, media.WithPublisher(events), media.WithNameCacheSize(cfg.MetadataCacheSize))

	db := openCatalog(ctx, cfg, log)
	if db != nil {
		mediaOpts = append(mediaOpts, media.WithRepository(postgres.NewMediaRepository(db)))
	}

	localStore, err := local.New(cfg.LocalStorageDir, cfg.LocalPublicBaseURL, cfg.LocalStaticPrefix, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init local storage")
	}

	handlers := api.Handlers{
		LocalMedia: api.NewLocalMediaHandler(media.NewService(localStore, log, mediaOpts...), log),
		StaticRoot: localStore.BaseDir(),
	}

	if objectStore, err := openObjectStorage(ctx, cfg); err != nil {
		log.Warn().Err(err).Strs("missing", cfg.MissingObjectStorageSettings()).Msg("对象存储不可用，相关接口将返回配置错误")
		handlers.ObjectMedia = api.NewUnconfiguredMediaHandler(cfg.MissingObjectStorageSettings(), log)
	} else {
		log.Info().Str("backend", objectStore.Name()).Msg("对象存储已启用")
		handlers.ObjectMedia = api.NewObjectMediaHandler(media.NewService(objectStore, log, mediaOpts...), log)
	}

	// graphql.New 在未配置时返回 nil，不能直接放进接口变量
	if client := graphql.New(cfg.GraphQLEndpoint, cfg.GraphQLToken, cfg.GraphQLTimeout); client != nil {
		handlers.Articles = api.NewArticleHandler(workflow.NewEngine(client, events, log), log)
	} else {
		log.Warn().Msg("GRAPHQL_ENDPOINT 未配置，稿件接口返回配置错误")
		handlers.Articles = api.NewArticleHandler(nil, log)
	}

	var authenticator *middleware.Authenticator
	var auth func(http.Handler) http.Handler
	if cfg.AuthEnabled {
		authenticator = middleware.NewAuthenticator(middleware.AuthConfig{
			JWTSecret: cfg.JWTSecret,
			JWKSURL:   cfg.JWKSURL,
			APIKeys:   cfg.APIKeys,
		}, log)
		auth = authenticator.Middleware
	} else {
		log.Warn().Msg("鉴权已关闭，所有请求以 ADMIN 身份执行")
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(cfg, auth, handlers),
		ReadHeaderTimeout: 10 * time.Second,
		// 大文件上传需要更长的读写时间
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("服务开始监听")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("监听失败")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("优雅关闭失败")
	}
	authenticator.Close()
	if err := events.Close(); err != nil {
		log.Warn().Err(err).Msg("close event publisher")
	}
	if db != nil {
		_ = db.Close()
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("flush traces")
	}
	log.Info().Msg("服务已停止")
}

// openCatalog 在启用数据库时连接并执行迁移；失败时只记录错误，媒体目录退化为仅依赖存储元数据。
func openCatalog(ctx context.Context, cfg *config.Config, log zerolog.Logger) *sql.DB {
	if !cfg.DBEnabled {
		return nil
	}
	db, err := database.Connect(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("connect database, media catalog disabled")
		return nil
	}
	if _, err := migrator.Apply(ctx, db, migrations.Files, log); err != nil {
		log.Error().Err(err).Msg("apply migrations, media catalog disabled")
		_ = db.Close()
		return nil
	}
	return db
}

func openObjectStorage(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	if !cfg.ObjectStorageConfigured() {
		return nil, errors.New("object storage is not configured")
	}
	if cfg.ObjectStorageDriver == "minio" {
		return miniostorage.New(ctx, miniostorage.Config{
			Endpoint:  cfg.ObjectStorageEndpoint,
			AccessKey: cfg.ObjectStorageAccessKey,
			SecretKey: cfg.ObjectStorageSecretKey,
			Bucket:    cfg.ObjectStorageBucket,
			Region:    cfg.ObjectStorageRegion,
			UseSSL:    cfg.ObjectStorageUseSSL,
			PublicURL: cfg.ObjectStoragePublicURL,
		})
	}
	return s3storage.New(ctx, s3storage.Config{
		AccountID: cfg.ObjectStorageAccountID,
		Region:    cfg.ObjectStorageRegion,
		AccessKey: cfg.ObjectStorageAccessKey,
		SecretKey: cfg.ObjectStorageSecretKey,
		Bucket:    cfg.ObjectStorageBucket,
		Endpoint:  cfg.ObjectStorageEndpoint,
		PublicURL: cfg.ObjectStoragePublicURL,
	})
}
