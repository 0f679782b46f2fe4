package app

import (
	"context"
	"errors"
	"fmt"

	qxcfg "quantx/internal/config"
	"quantx/internal/feed"
	"quantx/internal/heartbeat"
	"quantx/internal/logger"
	"quantx/internal/store/gormstore"
	"quantx/internal/telemetry"
	qxhttp "quantx/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP、遥测与心跳。
type App struct {
	cfg       *qxcfg.Config
	store     *gormstore.Store
	server    *qxhttp.Server
	sink      *telemetry.Sink
	heartbeat *heartbeat.Task
	feed      *feed.Router
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *qxcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动全部后台服务并阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		return ignoreCancel(a.sink.Run(ctx))
	})

	group.Go(func() error {
		return ignoreCancel(a.heartbeat.Run(ctx))
	})

	logger.Infof("quantx signal server listening on %s", a.server.Addr())
	return group.Wait()
}

func (a *App) close() {
	if a.feed != nil {
		if err := a.feed.Close(); err != nil {
			logger.Warnf("closing feed router: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("closing store: %v", err)
		}
	}
}

// ignoreCancel 把正常的 ctx 取消折叠为 nil，避免污染 errgroup 的结果。
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
