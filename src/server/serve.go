package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/andrewyi/newscrawler/src/api"
	"github.com/andrewyi/newscrawler/src/core"
)

const shutdownTimeout = 10 * time.Second

func (s *Server) scheduledCrawl(ctx context.Context) {
	report, err := s.orchestrator.Crawl(ctx, s.config.Crawl.Lookback)
	switch {
	case errors.Is(err, core.ErrCrawlRunning):
		s.logger.Warn("previous crawl still running, skip")
	case err != nil:
		s.logger.WithError(err).Error("scheduled crawl aborted")
	default:
		s.logger.WithField("run_id", report.RunID).Info("scheduled crawl finished")
	}
}

// Serve 阻塞直到收到退出信号或者http服务失败
func (s *Server) Serve(ctx context.Context, c *cli.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.logger.IsLevelEnabled(log.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	h := api.NewHandler(s.engine, s.dbStorage, s.orchestrator, s.config.Crawl.Lookback, s.logger)
	srv := &http.Server{
		Addr:    s.config.Server.Addr,
		Handler: api.NewRouter(h, s.registry),
	}

	errc := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	s.logger.WithField("addr", srv.Addr).Info("http server started")

	var scheduler *cron.Cron
	if spec := s.config.Schedule.Spec; spec != "" {
		scheduler = cron.New(cron.WithLocation(time.UTC))
		if _, err := scheduler.AddFunc(spec, func() { s.scheduledCrawl(ctx) }); err != nil {
			srv.Close()
			return fmt.Errorf("bad schedule spec %q: %w", spec, err)
		}
		scheduler.Start()
		s.logger.WithField("spec", spec).Info("crawl scheduled")
	}

	var err error
	select {
	case <-ctx.Done():
		s.logger.Warn("interrupt signal, server gonna stop")
	case err = <-errc:
		s.logger.WithError(err).Error("http server failed")
	}

	cancel()
	if scheduler != nil {
		// 等待正在执行的抓取退出
		<-scheduler.Stop().Done()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}
