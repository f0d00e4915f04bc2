package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tethys-irc/tethys/internal/config"
	"github.com/tethys-irc/tethys/internal/irc"
	"github.com/tethys-irc/tethys/internal/logger"
	"github.com/tethys-irc/tethys/internal/plugin"
	"github.com/tethys-irc/tethys/internal/store"
	"github.com/tethys-irc/tethys/plugins"
)

// App owns one supervisor per configured network plus the resources
// they share: the plugin registry and the plugin store. Construction
// performs all fatal validation; once Run starts, nothing short of
// cancellation stops it.
type App struct {
	cfg      *config.Config
	store    *store.Store
	networks []*irc.Network
	log      zerolog.Logger
}

func NewApp(cfg *config.Config) (*App, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
		dataDir = filepath.Join(base, "tethys")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(filepath.Join(dataDir, "tethys.db"))
	if err != nil {
		return nil, err
	}

	registry, err := plugin.NewRegistry(plugins.All(st), cfg)
	if err != nil {
		st.Close()
		return nil, err
	}
	dispatcher := plugin.NewDispatcher(registry)

	app := &App{
		cfg:   cfg,
		store: st,
		log:   logger.Log,
	}

	names := make([]string, 0, len(cfg.Networks))
	for name := range cfg.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		network, err := irc.NewNetwork(cfg.Networks[name], dispatcher)
		if err != nil {
			st.Close()
			return nil, err
		}
		app.networks = append(app.networks, network)
	}
	return app, nil
}

// Run starts every network supervisor and blocks until all of them have
// stopped. Cancelling ctx triggers a graceful shutdown; each supervisor
// sends its quit notice with a bounded timeout, so one hung network
// cannot stall the rest.
func (a *App) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, network := range a.networks {
		wg.Add(1)
		go func(n *irc.Network) {
			defer wg.Done()
			n.Run(ctx)
		}(network)
	}
	wg.Wait()
	a.log.Info().Msg("all networks stopped")
}

// Close releases shared resources after Run returns.
func (a *App) Close() error {
	return a.store.Close()
}
