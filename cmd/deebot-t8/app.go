package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deebot-t8/deebot-t8-go/pkg/api"
	"github.com/deebot-t8/deebot-t8-go/pkg/auth"
	"github.com/deebot-t8/deebot-t8-go/pkg/config"
	"github.com/deebot-t8/deebot-t8-go/pkg/entity"
	"github.com/deebot-t8/deebot-t8-go/pkg/portal"
	"github.com/deebot-t8/deebot-t8-go/pkg/subscription"
)

// app wires the cloud clients together from a loaded configuration.
type app struct {
	cfg           *config.Config
	authenticator *auth.Authenticator
	api           *api.Client
	subs          *subscription.Client
	logger        *slog.Logger
}

func newApp(store *config.Store, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no configuration found, run login first")
	}

	portalClient := portal.NewClient(portal.Config{
		DeviceID:  cfg.DeviceID,
		Country:   cfg.Country,
		Continent: cfg.Continent,
		Logger:    logger,
	})

	loginClient := auth.NewClient(auth.Config{
		Country:  cfg.Country,
		DeviceID: cfg.DeviceID,
		Portal:   portalClient,
		Logger:   logger,
	})

	authenticator := auth.NewAuthenticator(auth.AuthenticatorConfig{
		Client:       loginClient,
		AccountID:    cfg.Username,
		PasswordHash: cfg.PasswordHash,
		Cached:       cfg.Credentials,
		OnChanged: func(creds auth.Credentials) {
			cfg.Credentials = &creds
			if err := store.Save(cfg); err != nil {
				logger.Warn("failed to persist credentials", "error", err)
			}
		},
		Logger: logger,
	})

	apiClient := api.NewClient(api.Config{
		Portal:      portalClient,
		Credentials: authenticator,
		Logger:      logger,
	})

	subs := subscription.NewClient(subscription.Config{
		Continent:   cfg.Continent,
		DeviceID:    cfg.DeviceID,
		Credentials: authenticator,
		Logger:      logger,
	})

	return &app{
		cfg:           cfg,
		authenticator: authenticator,
		api:           apiClient,
		subs:          subs,
		logger:        logger,
	}, nil
}

func (a *app) Close() {
	a.subs.Close()
}

// entityByName resolves a device by nickname or device id and returns an
// entity for it.
func (a *app) entityByName(ctx context.Context, name string) (*entity.Entity, error) {
	devices, err := a.api.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	for _, d := range devices {
		if strings.EqualFold(d.Nickname, name) || d.ID == name {
			return entity.New(entity.Config{
				Executor: a.api,
				Push:     a.subs,
				Device:   d,
				Logger:   a.logger,
			}), nil
		}
	}
	return nil, fmt.Errorf("no device named %q on this account", name)
}
