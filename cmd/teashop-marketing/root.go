package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/teashop/storefront/internal/conf"
	v2 "github.com/teashop/storefront/internal/datastore/v2"
	"github.com/teashop/storefront/internal/datastore/v2/repository"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
	"github.com/teashop/storefront/internal/marketing"
	"github.com/teashop/storefront/internal/notification"
	"github.com/teashop/storefront/internal/storefront"
)

// runtime is what every subcommand needs after loading configuration.
type runtime struct {
	settings *conf.Settings
	log      logger.Logger
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "teashop-marketing",
		Short:         "Marketing trigger engine for the tea shop storefront",
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (TEASHOP_* env vars override)")

	load := func(cmd *cobra.Command) (*runtime, error) {
		settings, err := conf.Load(configPath)
		if err != nil {
			return nil, err
		}
		log := logger.NewLogger(cmd.ErrOrStderr(), logger.ParseLevel(settings.Log.Level), logger.Format(settings.Log.Format))
		return &runtime{settings: settings, log: log}, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newScanCmd(load),
		newMigrateCmd(load),
		newSeedCmd(load),
	)
	return root
}

type loader func(cmd *cobra.Command) (*runtime, error)

// ownsStorefrontSchema reports whether this process should migrate the users
// and orders tables. SQLite deployments are standalone; MySQL shares the
// storefront's database and leaves its tables alone.
func ownsStorefrontSchema(settings *conf.Settings) bool {
	return settings.Database.Driver == "sqlite"
}

// openDatabase opens and migrates the database.
func (rt *runtime) openDatabase() (*v2.Manager, error) {
	mgr, err := v2.Open(&rt.settings.Database, rt.log)
	if err != nil {
		return nil, err
	}
	if err := mgr.Initialize(ownsStorefrontSchema(rt.settings)); err != nil {
		_ = mgr.Close()
		return nil, err
	}
	return mgr, nil
}

// engine bundles the marketing engine with the resources it owns.
type engine struct {
	*marketing.Engine
	triggers repository.TriggerRepository
	audience repository.AudienceRepository
	notifier notification.Provider
}

func (e *engine) Close() error {
	return e.notifier.Close()
}

// buildEngine wires repositories, storefront services and the notification
// provider into a marketing engine. The caller starts it when needed.
func (rt *runtime) buildEngine(ctx context.Context, mgr *v2.Manager, reg prometheus.Registerer) (*engine, error) {
	s := rt.settings
	triggers := repository.NewTriggerRepository(mgr.DB())
	audience := repository.NewAudienceRepository(mgr.DB())

	store, err := storefront.NewClient(s.Storefront, nil, rt.log)
	if err != nil {
		return nil, err
	}
	formatter, err := marketing.NewFormatter(s.Notifications.Language, s.Notifications.Currency)
	if err != nil {
		return nil, errors.Newf("invalid notification locale: %w", err).
			Component("cli").
			Category(errors.CategoryConfiguration).
			Build()
	}
	notifier, err := notification.NewProvider(s.Notifications, audience, rt.log)
	if err != nil {
		return nil, err
	}

	eng, err := marketing.Initialize(ctx, marketing.Deps{
		Triggers: triggers,
		Audience: audience,
		Services: marketing.ActionServices{
			Coupons:  store,
			Notifier: notifier,
			Points:   store,
			Users:    audience,
		},
		Settings:   s.Marketing,
		Formatter:  formatter,
		Registerer: reg,
		Log:        rt.log,
	})
	if err != nil {
		_ = notifier.Close()
		return nil, err
	}
	return &engine{Engine: eng, triggers: triggers, audience: audience, notifier: notifier}, nil
}
