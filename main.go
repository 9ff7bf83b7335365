package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/klauspost/compress/gzhttp"

	"github.com/ChrisTaylor17/society/config"
	"github.com/ChrisTaylor17/society/hub"
	"github.com/ChrisTaylor17/society/registry"
	"github.com/ChrisTaylor17/society/session"
	"github.com/ChrisTaylor17/society/sshd"
	ws "github.com/ChrisTaylor17/society/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(cfg.NewLogger(os.Stdout))

	members := registry.New()
	broadcaster := hub.New(members)
	lifecycle := session.New(members, broadcaster)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: newMux(cfg, members, broadcaster, lifecycle),
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	var sshServer *sshd.Server
	if cfg.SSHAddr != "" {
		hostKey, err := sshd.LoadOrGenerateHostKey(cfg.SSHHostKey)
		if err != nil {
			slog.Error("host key error", "error", err)
			os.Exit(1)
		}
		sshServer = sshd.NewServer(hostKey, lifecycle, cfg.SendBuffer)
		go func() {
			if err := sshServer.ListenAndServe(cfg.SSHAddr); err != nil {
				slog.Error("ssh server error", "error", err)
				os.Exit(1)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if sshServer != nil {
		sshServer.Close()
	}
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func newMux(cfg config.Config, members *registry.Registry, broadcaster *hub.Hub, lifecycle *session.Lifecycle) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.Handler(lifecycle, ws.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		SendBuffer:     cfg.SendBuffer,
	}))
	mux.Handle("/health", gzhttp.GzipHandler(http.HandlerFunc(healthHandler)))
	mux.Handle("/stats", gzhttp.GzipHandler(statsHandler(members, broadcaster)))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statsResponse struct {
	Clients     int   `json:"clients"`
	Connections int64 `json:"connections"`
	hub.Stats
}

func statsHandler(members *registry.Registry, broadcaster *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statsResponse{
			Clients:     members.Count(),
			Connections: members.Total(),
			Stats:       broadcaster.Stats(),
		})
	}
}
