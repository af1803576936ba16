package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-rfid-alarm/internal/alarm"
	"github.com/kstaniek/go-rfid-alarm/internal/config"
	"github.com/kstaniek/go-rfid-alarm/internal/events"
	"github.com/kstaniek/go-rfid-alarm/internal/metrics"
	"github.com/kstaniek/go-rfid-alarm/internal/web"
)

func initHub(h config.HTTP, l *slog.Logger) *events.Hub {
	hb := events.New()
	hb.OutBufSize = h.EventsBuffer
	switch h.EventsPolicy {
	case "kick":
		hb.Policy = events.PolicyKick
	default:
		hb.Policy = events.PolicyDrop
	}
	l.Info("events_config", "policy", h.EventsPolicy, "buffer", hb.OutBufSize)
	return hb
}

// startHTTP serves /metrics, /ready, /status and /events, and advertises the
// port over mDNS when enabled. The returned function shuts everything down.
func startHTTP(ctx context.Context, cfg *config.Config, ctrl *alarm.Controller, hb *events.Hub, l *slog.Logger) func() {
	ws := web.New(ctrl.Status, hb, web.WithLogger(l), web.WithMaxClients(cfg.HTTP.MaxClients))
	srv := metrics.StartHTTP(cfg.HTTP.Addr, ws.Mount)

	var stopMDNS func()
	if port := listenPort(cfg.HTTP.Addr); cfg.MDNS.Enable && port != 0 {
		cleanup, err := startMDNS(ctx, cfg, port)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
		} else {
			stopMDNS = cleanup
			l.Info("mdns_started", "service", mdnsServiceType, "name", mdnsInstance(cfg), "port", port)
		}
	}

	return func() {
		if stopMDNS != nil {
			stopMDNS()
		}
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ws.Close()
		if err := srv.Shutdown(sctx); err != nil && err != http.ErrServerClosed {
			l.Warn("http_shutdown_error", "error", err)
		}
	}
}

// listenPort extracts the port from host:port or :port; 0 if unknown.
func listenPort(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			return n
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if n, err := strconv.Atoi(addr[i+1:]); err == nil {
			return n
		}
	}
	return 0
}
