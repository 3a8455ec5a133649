package cli

import (
	"context"
	"fmt"

	"commentflow/internal/app"
	"commentflow/internal/config"
	"commentflow/internal/observability"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// runtimeDeps 子命令共享的配置、日志、追踪与数据库
type runtimeDeps struct {
	cfg      *config.Config
	db       *gorm.DB
	shutdown func(context.Context) error
}

func (d *runtimeDeps) close() {
	if d.shutdown != nil {
		_ = d.shutdown(context.Background())
	}
	if d.db != nil {
		if sqlDB, err := d.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func bootstrap(ctx context.Context, migrate bool) (*runtimeDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	deps := &runtimeDeps{cfg: cfg}
	// OpenTelemetry 初始化（可选）
	if shutdown, err := observability.SetupTracing(ctx, cfg); err != nil {
		logrus.Warnf("init tracing: %v", err)
	} else {
		deps.shutdown = shutdown
	}

	db, err := app.OpenDatabase(cfg)
	if err != nil {
		deps.close()
		return nil, err
	}
	deps.db = db

	if migrate {
		if err := app.Migrate(db); err != nil {
			deps.close()
			return nil, err
		}
	}
	return deps, nil
}
