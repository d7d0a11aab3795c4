package main

import (
	"context"
	"io"
	"sync"

	"imagetool/internal/cli"
	"imagetool/internal/config"
	"imagetool/internal/domain"
	"imagetool/internal/gateway"
	"imagetool/internal/secrets"
)

// liveApp holds the app currently serving gateway calls. Reloads rebuild the
// app from the new config and swap it into the running server.
type liveApp struct {
	mu       sync.Mutex
	cur      *app
	srv      *gateway.Server
	port     int
	portFlag int
	logOut   io.Writer
}

func (l *liveApp) current() *app {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cur
}

// resolveToken fills the gateway token from the secrets file when the config
// has none and logs where auth comes from.
func resolveToken(a *app) {
	source, err := cli.ResolveGatewayToken(a.cfg)
	switch {
	case err != nil:
		a.logger.Warn("secrets file unreadable; gateway auth comes from config only", "error", err)
	case source == "":
		a.logger.Warn("gateway auth disabled", "hint", "imagetool secret set "+secrets.GatewayTokenKey+" TOKEN")
	default:
		a.logger.Info("gateway auth enabled", "source", source)
	}
}

// reload builds a new app from cfg and swaps it in. On failure the old app
// keeps serving.
func (l *liveApp) reload(ctx context.Context, cfg *domain.Config) {
	old := l.current()
	if old == nil {
		return
	}
	if l.portFlag >= 0 {
		cfg.Gateway.Port = l.portFlag
	}
	next, err := newApp(ctx, cfg, config.NewLogger(cfg.Infra, l.logOut))
	if err != nil {
		old.logger.Error("reload failed; keeping previous config", "error", err)
		return
	}
	resolveToken(next)
	if cfg.Gateway.Port != l.port {
		next.logger.Warn("gateway port change needs a restart", "listening", l.port, "configured", cfg.Gateway.Port)
	}

	l.mu.Lock()
	if l.cur == nil {
		l.mu.Unlock()
		next.close()
		return
	}
	l.cur = next
	l.mu.Unlock()
	l.srv.Reload(next.registry, cfg.Gateway.Auth.AuthToken)
	next.logger.Info("gateway reloaded", "tools", len(next.registry.Definitions()), "auth", cfg.Gateway.Auth.AuthToken != "")
	old.close()
}

func (l *liveApp) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cur != nil {
		l.cur.close()
		l.cur = nil
	}
}
