package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"imsim/server"
)

// imsim 服务端入口：启动管理接口，并以配置中的地址和密码启动房间
func main() {
	var (
		configPath string
		addr       string
		adminAddr  string
		password   string
		maxClients int
		tickRate   int
		logFile    string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "path to a TOML config file")
	flag.StringVar(&addr, "addr", "", "bind address for game connections, e.g. :5000")
	flag.StringVar(&adminAddr, "admin", "", "admin/metrics listen address")
	flag.StringVar(&password, "password", "", "room password (empty: open room)")
	flag.IntVar(&maxClients, "max-clients", 0, "maximum concurrent connections")
	flag.IntVar(&tickRate, "tick-rate", 0, "simulation ticks per second")
	flag.StringVar(&logFile, "log", "", "log file path")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	// 命令行参数覆盖配置文件
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = addr
		case "admin":
			cfg.AdminAddr = adminAddr
		case "password":
			cfg.RoomPassword = password
		case "max-clients":
			cfg.MaxClients = maxClients
		case "tick-rate":
			cfg.TickRate = tickRate
		case "log":
			cfg.LogFile = logFile
		case "log-level":
			cfg.LogLevel = logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := server.InitLogger(server.LogOptions{File: cfg.LogFile, Level: cfg.LogLevel, Console: cfg.LogConsole}); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			server.Log.Warnf("sentry disabled: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	srv := server.NewServer(cfg)

	admin := &http.Server{Addr: cfg.AdminAddr, Handler: srv.AdminHandler()}
	go func() {
		server.Log.Infof("admin listening on %s", cfg.AdminAddr)
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Log.Errorf("admin listen: %v", err)
		}
	}()

	var pw *string
	if cfg.RoomPassword != "" {
		pw = &cfg.RoomPassword
	}
	if err := srv.Start(server.StartCommand{BindAddr: cfg.Addr, RoomPassword: pw}); err != nil {
		// 绑定失败只终止这一次启动尝试；管理接口继续服务，可通过 /admin/start 重试
		server.Log.Errorf("start failed, waiting for /admin/start: %v", err)
	}

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Log.Info("Shutting down...")
	if err := srv.Stop(); err != nil && !errors.Is(err, server.ErrNotRunning) {
		server.Log.Warnf("stop: %v", err)
	}
	_ = admin.Close()
}
