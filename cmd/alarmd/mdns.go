package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/kstaniek/go-rfid-alarm/internal/config"
	"github.com/kstaniek/go-rfid-alarm/internal/version"
)

const mdnsServiceType = "_alarmd._tcp"

// registerMDNS is a hook for tests.
var registerMDNS = defaultRegisterMDNS

func defaultRegisterMDNS(instance, service string, port int, txt []string) (func(), error) {
	svc, err := zeroconf.Register(instance, service, "local.", port, txt, nil)
	if err != nil {
		return nil, err
	}
	return svc.Shutdown, nil
}

// startMDNS advertises the HTTP endpoint and returns a cleanup function.
// It is a no-op when disabled.
func startMDNS(ctx context.Context, cfg *config.Config, port int) (func(), error) {
	if !cfg.MDNS.Enable {
		return func() {}, nil
	}
	instance := mdnsInstance(cfg)
	meta := []string{
		"gpio=" + cfg.GPIO.Backend,
		"version=" + version.Version,
		"commit=" + version.Commit,
		"path=/status",
	}
	shutdown, err := registerMDNS(instance, mdnsServiceType, port, meta)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		shutdown()
	}()
	return func() { close(done); time.Sleep(50 * time.Millisecond) }, nil
}

func mdnsInstance(cfg *config.Config) string {
	if cfg.MDNS.Name != "" {
		return cfg.MDNS.Name
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("alarmd-%s", host)
}
