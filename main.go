package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"filetoolsgo/internal/api"
	"filetoolsgo/internal/config"
	"filetoolsgo/internal/ingest"
	"filetoolsgo/internal/logging"
	"filetoolsgo/internal/orchestrator"
	"filetoolsgo/internal/ratelimit"
	"filetoolsgo/internal/redis"
	"filetoolsgo/internal/runner"
	"filetoolsgo/internal/session"
	"filetoolsgo/internal/storage"
	"filetoolsgo/internal/sweeper"
	"filetoolsgo/internal/transform"
	"filetoolsgo/internal/worker"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("FILETOOLS_CONFIG"))
	if err != nil {
		logging.Fatal("load config", "error", err)
	}

	dbType := os.Getenv("FILETOOLS_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	if err := os.MkdirAll(cfg.BasicConfig.FileBaseDir, 0o755); err != nil {
		logging.Fatal("create data dir", "error", err)
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logging.Fatal("open database", "type", dbType, "error", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		logging.Fatal("migrate database", "error", err)
	}

	fs := afero.NewOsFs()
	ttl := time.Duration(cfg.BasicConfig.SessionTTLMinutes) * time.Minute
	sessions := session.NewManager(db, fs, cfg.BasicConfig.FileBaseDir, ttl)
	gate := ingest.NewGate(fs, cfg.BasicConfig.FileBaseDir)

	execRunner := &runner.ExecRunner{
		Timeout: time.Duration(cfg.BasicConfig.ExecTimeoutSeconds) * time.Second,
	}
	pool := worker.NewPool(
		cfg.BasicConfig.MinWorkers,
		cfg.BasicConfig.MaxWorkers,
		cfg.BasicConfig.QueueSize,
		time.Duration(cfg.BasicConfig.WorkerIdleTimeout)*time.Minute,
	)
	orch := orchestrator.New(sessions, execRunner, pool, fs)

	var limiter *ratelimit.Limiter
	if cfg.Redis.Host != "" {
		rdb, err := redis.NewClient(cfg)
		if err != nil {
			logging.Fatal("create redis client", "error", err)
		}
		defer rdb.Close()
		limiter = ratelimit.New(rdb, cfg.BasicConfig.UploadsPerMinute, time.Minute)
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	interval := time.Duration(cfg.BasicConfig.SweepIntervalMin) * time.Minute
	sweeper.New(sessions, fs, gate.HoldingDir(), interval, interval).Start(sweepCtx)

	router := gin.Default()
	corsCfg := cors.DefaultConfig()
	if len(cfg.BasicConfig.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.BasicConfig.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	router.Use(cors.New(corsCfg))

	handlers := api.NewHandler(gate, orch, sessions, transform.Catalog(), limiter)
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	logging.Info("listening", "addr", addr, "data", filepath.Clean(cfg.BasicConfig.FileBaseDir))
	if err := router.Run(addr); err != nil {
		logging.Fatal("server stopped", "error", err)
	}
}
