package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/andrewyi/newscrawler/src/adapter"
	"github.com/andrewyi/newscrawler/src/config"
	"github.com/andrewyi/newscrawler/src/controller"
	"github.com/andrewyi/newscrawler/src/core"
	"github.com/andrewyi/newscrawler/src/dbstorage"
	"github.com/andrewyi/newscrawler/src/downloader"
	"github.com/andrewyi/newscrawler/src/filestorage"
	"github.com/andrewyi/newscrawler/src/metrics"
	"github.com/andrewyi/newscrawler/src/search"
	"github.com/andrewyi/newscrawler/src/tokenizer"
)

type Server struct {
	out    io.Writer
	logger *log.Logger
	config *config.Config

	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	dbStorage    *dbstorage.SimpleDBStorage
	engine       *search.Engine
	orchestrator *core.Orchestrator
}

// NewServer 命令的结果输出到out，日志输出到stderr
func NewServer(out io.Writer) *Server {
	return &Server{
		out: out,
	}
}

func (s *Server) initLog() {
	var logger = log.New()
	if s.config.Log.Format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{
			DisableColors: true,
			FullTimestamp: true,
		})
	}
	logger.SetOutput(os.Stderr)

	if s.config.Log.Context {
		logger.SetReportCaller(true)
	}

	if logLevel, err := log.ParseLevel(s.config.Log.Level); err != nil {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(logLevel)
	}
	s.logger = logger
}

func (s *Server) setup(ctx context.Context, c *cli.Context) error {
	configPath := c.GlobalString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("fail to load config, err: %w", err)
	}
	s.config = cfg

	s.initLog()

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.New(s.registry)

	tok := tokenizer.New(cfg.Index.Language)
	dbStorage, err := dbstorage.NewSimpleDBStorage(ctx, cfg.Database.Driver, cfg.Database.URL, cfg.Database.MaxOpenConns, tok, s.logger)
	if err != nil {
		return fmt.Errorf("fail to open database, err: %w", err)
	}
	s.dbStorage = dbStorage
	s.engine = search.NewEngine(dbStorage.DB(), dbStorage.DriverName(), tok, s.logger, s.metrics)

	d := downloader.NewSimpleDownloader(downloader.Options{
		Timeout:           cfg.Downloader.Timeout,
		UserAgent:         cfg.Downloader.UserAgent,
		RequestsPerSecond: cfg.Downloader.RequestsPerSecond,
		Burst:             cfg.Downloader.Burst,
		MaxBodyBytes:      cfg.Downloader.MaxBodyBytes,
	})
	adapters, err := adapter.NewAll(cfg.EnabledSources(), d, s.logger)
	if err != nil {
		s.Close()
		return fmt.Errorf("fail to build adapters, err: %w", err)
	}

	var file filestorage.FileStorage
	if cfg.Storage.Location != "" {
		file = filestorage.NewSimpleFileStorage(cfg.Storage.Location)
	}

	s.orchestrator = core.NewOrchestrator(adapters, dbStorage, file, s.metrics, s.logger, core.Options{
		SubWindow: cfg.Crawl.SubWindow,
		Controller: controller.Options{
			MaxAttempts:    cfg.Crawl.MaxAttempts,
			InitialBackoff: cfg.Crawl.InitialBackoff,
			MaxBackoff:     cfg.Crawl.MaxBackoff,
		},
	})
	return nil
}

// action 为每个子命令完成初始化，SIGINT/SIGTERM时取消ctx
func (s *Server) action(fn func(ctx context.Context, c *cli.Context) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := s.setup(ctx, c); err != nil {
			return err
		}
		defer s.Close()
		return fn(ctx, c)
	}
}

func (s *Server) Close() {
	if s.dbStorage != nil {
		if err := s.dbStorage.Close(); err != nil {
			s.logger.WithError(err).Warn("fail to close database")
		}
		s.dbStorage = nil
	}
}

func NewApp(out io.Writer) *cli.App {
	s := NewServer(out)

	app := cli.NewApp()
	app.Name = "newscrawler"
	app.Version = "0.1.0"
	app.Usage = "新闻抓取与检索"
	app.Writer = out
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config,c",
			Usage: "配置文件",
			Value: "./config.yaml",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "crawl",
			Usage: "抓取所有启用的source",
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "lookback", Usage: "回溯时长，默认使用配置中的crawl.lookback"},
			},
			Action: s.action(s.Crawl),
		},
		{
			Name:      "search",
			Usage:     "检索已入库的文章",
			ArgsUsage: "[keywords...]",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "from", Usage: "YYYY-MM-DD或RFC3339"},
				cli.StringFlag{Name: "to", Usage: "YYYY-MM-DD或RFC3339，只有日期时包含当天"},
				cli.StringSliceFlag{Name: "label"},
				cli.StringSliceFlag{Name: "source"},
				cli.IntFlag{Name: "limit", Value: 20},
				cli.IntFlag{Name: "offset"},
			},
			Action: s.action(s.Search),
		},
		{
			Name:      "article",
			Usage:     "按id查看文章",
			ArgsUsage: "ID",
			Action:    s.action(s.Article),
		},
		{
			Name:   "reindex",
			Usage:  "重建全部索引",
			Action: s.action(s.Reindex),
		},
		{
			Name:   "serve",
			Usage:  "启动http接口，并按schedule.spec定时抓取",
			Action: s.action(s.Serve),
		},
	}
	return app
}
