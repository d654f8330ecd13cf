package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"outway/backend/api"
	"outway/backend/bridge"
	"outway/backend/service"
)

func main() {
	addr := pflag.String("addr", "127.0.0.1:8080", "HTTP listen address")
	stateRoot := pflag.String("state-root", "data", "state root directory (engine config, node cache)")
	subscriptionURL := pflag.String("subscription-url", "", "clash subscription URL")
	socksPort := pflag.Int("socks-port", 7890, "local SOCKS listen port for the engine")
	healthInterval := pflag.Duration("health-interval", 30*time.Second, "background health check interval")
	pflag.Parse()

	if *subscriptionURL == "" {
		log.Fatal("--subscription-url is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hostStore := bridge.NewHostProxyStore()
	manager := service.NewManager(service.Config{
		SubscriptionURL: *subscriptionURL,
		SocksPort:       *socksPort,
		StateRoot:       *stateRoot,
		HealthInterval:  *healthInterval,
	}, hostStore)

	router := api.NewRouter(manager, api.AllowAll{})

	srv := &http.Server{
		Addr:    *addr,
		Handler: router,
	}

	go func() {
		log.Printf("outwayd listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	// 退出前必须把接管的宿主代理和内核收回去。
	if err := manager.Disable(); err != nil && !errors.Is(err, service.ErrNotEnabled) {
		log.Printf("disable on shutdown failed: %v", err)
	}
}
