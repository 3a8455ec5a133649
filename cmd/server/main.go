package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"commentflow/internal/app"
	"commentflow/internal/config"
	"commentflow/internal/observability"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func main() {
	// 读取配置文件（默认 ./config.yml）并初始化日志
	var configPath string
	flagSet := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (default is ./config.yml)")
	_ = flagSet.Parse(os.Args[1:])

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	_ = viper.ReadInConfig()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// OpenTelemetry 初始化（可选）
	shutdownOTel, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	db, err := app.OpenDatabase(cfg)
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Database.AutoMigrate {
		if err := app.Migrate(db); err != nil {
			appLogger.Fatalf("Failed to migrate database: %v", err)
		}
	}

	a := app.New(cfg, db, appLogger)
	defer a.Close()
	if err := a.Serve(ctx); err != nil {
		appLogger.Errorf("server: %v", err)
	}
}
