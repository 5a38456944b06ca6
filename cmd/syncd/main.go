// Package main accounts-syncd 入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accounts-syncd/internal/apiserver/server"
	"accounts-syncd/internal/config"
	"accounts-syncd/internal/shared/infra"
	"accounts-syncd/internal/shared/metrics"
	"accounts-syncd/internal/syncd"
	"accounts-syncd/pkg/logging"
)

func main() {
	configDirFlag := flag.String("config", "", "配置文件目录")
	flag.Parse()
	if *configDirFlag != "" {
		config.SetConfigDir(*configDirFlag)
	}

	// 加载配置（自动加载 .env，根据 APP_ENV 选择 YAML 配置文件）
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting accounts-syncd... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 持久化存储、对象存储、推送中继
	inf, err := infra.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize infrastructure: %v", err)
	}
	defer inf.Close()

	logger := logging.Default("syncd")
	core := syncd.New(syncd.Deps{
		Store:   inf.Store,
		Objects: inf.Objects,
		Push:    inf.Push,
		Metrics: metrics.New("syncd"),
		Logger:  logger,
	}, syncd.ConfigFrom(cfg))

	// 缓存必须在接受请求之前完成加载
	if err := core.LoadCache(ctx); err != nil {
		log.Fatalf("Failed to load cache: %v", err)
	}
	core.StartWorkers(ctx)

	srv := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     server.NewHandler(core, logger.WithComponent("api")).Router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// 优雅关闭
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Writer.ShutdownTimeout)
		defer cancel()

		// 先停止接收请求并等待在途请求结束，再排空写操作和推送
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := core.Shutdown(ctx); err != nil {
			log.Printf("Core shutdown error: %v", err)
		}
	}()

	log.Printf("accounts-syncd listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
	<-stopped

	fmt.Println("Server stopped")
}
