package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lotview/lotview/internal/api"
	"github.com/lotview/lotview/internal/parking"
	"github.com/lotview/lotview/internal/session"
	"github.com/lotview/lotview/pkg/config"
	"github.com/lotview/lotview/pkg/logger"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lotview",
		Short:         "Terminal dashboard for the smart parking backend",
		Long:          "lotview keeps a live, slot-accurate view of a parking facility in your terminal:\nauthentication, lot browsing, slot booking and real-time occupancy updates.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		loginCmd(),
		logoutCmd(),
		registerCmd(),
		whoamiCmd(),
		lotsCmd(),
		bookCmd(),
		snapshotCmd(),
		watchCmd(),
	)

	return cmd
}

// app bundles the wired client stack shared by every subcommand.
type app struct {
	cfg     *config.Config
	client  *api.Client
	session *session.Store
	auth    *session.Service
	store   *parking.Store
}

func newApp() (*app, error) {
	cfg := config.Load()
	if err := logger.Configure(cfg.Log.Level, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	sess, err := session.Open(cfg.Session.Path)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	client := api.New(cfg.API.BaseURL, sess,
		api.WithTimeout(cfg.API.Timeout),
		api.WithSessionExpiredHandler(func() {
			logger.Warn("session expired, credentials cleared")
		}),
	)

	return &app{
		cfg:     cfg,
		client:  client,
		session: sess,
		auth:    session.NewService(client, sess),
		store:   parking.NewStore(client),
	}, nil
}
