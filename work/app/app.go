package app

import (
	"nowshowing/work/cache"
	"nowshowing/work/client"
	"nowshowing/work/config"
	"nowshowing/work/logger"
	"nowshowing/work/metadata"
	"nowshowing/work/prober"
	"nowshowing/work/registry"
	"nowshowing/work/resolver"
	"nowshowing/work/store"
)

// App is the dependency hub handed to every HTTP handler: the resolution
// engine plus its collaborators, built once in main and rebuilt in place on
// graceful reload.
type App struct {
	Config        *config.Config
	Registry      *registry.Registry
	Resolver      *resolver.Resolver
	Prober        *prober.Prober
	Store         *store.Store
	Metadata      *metadata.Client
	ResponseCache *cache.Cache
	HTTPClient    *client.HeaderSettingClient
}

// Reload rebuilds the configuration-derived pieces after the config cache
// has been cleared: a fresh registry (re-reading custom sources) and flushed
// caches. Open resolution sessions keep the registry snapshot they were
// created with.
func (a *App) Reload() {
	config.ClearConfigCache()
	newCfg := config.LoadConfig()

	a.Config = newCfg
	a.Registry = registry.New(newCfg.CustomSourcesPath)
	a.Resolver.SetRegistry(a.Registry)
	a.Prober.FlushCache()
	a.ResponseCache.Clear()

	logger.Info("{app - Reload} configuration reloaded, %d providers registered", a.Registry.Len())
}
