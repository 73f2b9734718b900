package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"qbatch/internal/app/docs"
	"qbatch/internal/app/router"
	"qbatch/internal/module/sim"
	"qbatch/internal/pkg/log"
	"qbatch/internal/pkg/sysinfo"
	"qbatch/pkg/backend"
	"qbatch/pkg/controller"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/common/version"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gopkg.in/yaml.v3"
)

// schedDefaults 为可选 YAML 配置文件的结构, 提供调度器默认值.
// 描述符中的 config 块会叠加在这些默认值之上.
type schedDefaults struct {
	Scheduler struct {
		MaxMemoryMB            uint64  `yaml:"max_memory_mb"`
		MaxParallelThreads     int     `yaml:"max_parallel_threads"`
		MaxParallelExperiments *int    `yaml:"max_parallel_experiments"`
		MaxParallelShots       int     `yaml:"max_parallel_shots"`
		ValidationThreshold    float64 `yaml:"validation_threshold"`
	} `yaml:"scheduler"`
}

// @title           qbatch
// @version         0.0.1-alpha
// @description     batch simulation execution controller
// @schema			http
// @BasePath        /api/v1
func main() {
	var (
		logOutput          string
		logFormat          string
		logFile            string
		logLevel           string
		srvlisenAddr       string
		srvshutdownTimeout time.Duration
		configFile         string
		distProcs          int
		distRank           int
	)
	app := kingpin.New(filepath.Base(os.Args[0]), "qbatch execution controller server.")
	app.HelpFlag.Short('h')
	// Logging related flags
	app.Flag("log.level", "Log level, one of [debug, info, warn, error].").Default("info").EnumVar(&logLevel, "debug", "info", "warn", "error")
	app.Flag("log.output", "Log output, one of [stdout, stderr, file].").Default("stderr").EnumVar(&logOutput, "stdout", "stderr", "file")
	app.Flag("log.format", "Log format, one of [json, text].").Default("text").EnumVar(&logFormat, "json", "text")
	app.Flag("log.file", "Log file path when --output=file.").PlaceHolder("PATH").StringVar(&logFile)
	app.Flag("server.listen-addr", "Server listen address (e.g. :8080 or 127.0.0.1:8080)").Default(":8082").StringVar(&srvlisenAddr)
	app.Flag("server.shutdown-timeout", "Graceful shutdown timeout (e.g. 10s)").Default("10s").DurationVar(&srvshutdownTimeout)
	app.Flag("config.file", "Optional YAML file with scheduler defaults.").PlaceHolder("PATH").StringVar(&configFile)
	app.Flag("distributed.procs", "Total number of cooperating processes.").Default("1").IntVar(&distProcs)
	app.Flag("distributed.rank", "Rank of this process within the cooperating set.").Default("0").IntVar(&distRank)
	// Cross-flag validation
	app.PreAction(func(*kingpin.ParseContext) error {
		if strings.EqualFold(logOutput, "file") {
			if !isValidFilePath(logFile) {
				return fmt.Errorf("invalid --file path: %q", logFile)
			}
		}
		if distProcs < 1 || distRank < 0 || distRank >= distProcs {
			return fmt.Errorf("invalid distributed geometry: rank %d of %d processes", distRank, distProcs)
		}
		return nil
	})
	app.Version(version.Print("qbatch"))

	_, err := app.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("failed to parse commandline arguments: %w", err))
		app.Usage(os.Args[1:])
		os.Exit(2)
	}
	// 创建 Logger
	logger, logClose, err := log.NewLogger(logOutput, logFormat, logFile, logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to create logger: %v", err)
		return
	}
	defer logClose()

	// 调度器默认配置: 文件(若有) + 分布式几何 flag
	defaults := controller.DefaultConfig()
	if configFile != "" {
		raw, err := os.ReadFile(configFile)
		if err != nil {
			logger.Error("unable to read config file", "path", configFile, "err", err)
			os.Exit(1)
		}
		var sd schedDefaults
		if err := yaml.Unmarshal(raw, &sd); err != nil {
			logger.Error("unable to parse config file", "path", configFile, "err", err)
			os.Exit(1)
		}
		defaults.MaxMemoryMB = sd.Scheduler.MaxMemoryMB
		defaults.MaxParallelThreads = sd.Scheduler.MaxParallelThreads
		if sd.Scheduler.MaxParallelExperiments != nil {
			defaults.MaxParallelJobs = *sd.Scheduler.MaxParallelExperiments
		}
		defaults.MaxParallelShots = sd.Scheduler.MaxParallelShots
		if sd.Scheduler.ValidationThreshold > 0 {
			defaults.ValidationThreshold = sd.Scheduler.ValidationThreshold
		}
	}
	defaults.NumProcesses = distProcs
	defaults.Rank = distRank

	// 创建模块路由
	probe := sysinfo.New(logger)
	registry := backend.NewRegistry(backend.NewZeroState())
	simRouter := sim.NewRouter(registry, probe, defaults, logger)
	// Build router
	r := router.New()

	docs.SwaggerInfo.BasePath = "/api/v1"
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 注册所有模块（也可做“按需编译”或通过 build tag 控制）
	router.Register(
		simRouter,
	)
	router.Mount(r)
	srv := &http.Server{
		Addr:              srvlisenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", srvlisenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", slog.Any("err", err))
			os.Exit(1)
		}
	case <-quit:
		// proceed to shutdown
	}
	logger.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), srvshutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", slog.Any("err", err))
	}
	logger.Info("server exiting")
}

// isValidFilePath performs a light-weight validation for file paths.
// It accepts both absolute and relative paths and rejects empty paths
// or paths that end with a path separator (which usually indicate a directory).
func isValidFilePath(p string) bool {
	if strings.TrimSpace(p) == "" {
		return false
	}
	// Reject paths that end with a separator, which imply directories
	if strings.HasSuffix(p, string(os.PathSeparator)) {
		return false
	}
	base := filepath.Base(p)
	if base == "." || base == string(os.PathSeparator) {
		return false
	}
	return true
}
