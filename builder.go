package tabauth

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/prosecheck/tabauth/kv"
	"github.com/prosecheck/tabauth/registry"
)

// Builder assembles a [Coordinator]. Zero or more With* calls, then
// Build; a Builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	prefix string

	shared kv.Store
	local  kv.Store
	sink   Sink

	built bool
}

// New creates a Builder carrying the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. Zero-valued fields are filled
// from the defaults at Build time.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis uses a Redis client as the shared store. prefix namespaces
// the keyspace; empty means the default prefix.
func (b *Builder) WithRedis(client redis.UniversalClient, prefix string) *Builder {
	b.redis = client
	b.prefix = prefix
	return b
}

// WithSharedStore uses an explicit shared store instead of Redis.
func (b *Builder) WithSharedStore(store kv.Store) *Builder {
	b.shared = store
	return b
}

// WithLocalStore replaces the ephemeral per-client store. The default
// is a fresh in-memory store, which gives each Coordinator its own tab
// identity; two Coordinators sharing a local store impersonate the same
// tab.
func (b *Builder) WithLocalStore(store kv.Store) *Builder {
	b.local = store
	return b
}

// WithEventSink sets the lifecycle event consumer.
func (b *Builder) WithEventSink(sink Sink) *Builder {
	b.sink = sink
	return b
}

// Build validates the configuration, wires the registry over the
// stores, and starts the event dispatcher, the logout-sync watcher, and
// the background upkeep tickers. The returned Coordinator owns those
// goroutines until Close.
func (b *Builder) Build() (*Coordinator, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	fillConfigDefaults(&b.config)
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	shared := b.shared
	if shared == nil {
		if b.redis == nil {
			return nil, errors.New("a shared store is required: use WithRedis or WithSharedStore")
		}
		shared = kv.NewRedisStore(b.redis, b.prefix)
	}

	local := b.local
	if local == nil {
		local = kv.NewMemoryStore()
	}

	c := &Coordinator{
		config:    b.config,
		shared:    shared,
		local:     local,
		registry:  registry.New(shared, local, b.config.Keys.Registry, b.config.Keys.TabID),
		events:    newEventDispatcher(b.config.Events, b.sink),
		metrics:   NewMetrics(),
		tokens:    newTokenManager(b.config.Token),
		lastTouch: make(map[string]int64),
	}

	syncer, err := startSyncLoop(c)
	if err != nil {
		c.events.Close()
		return nil, err
	}
	c.syncer = syncer
	c.upkeep = startUpkeepLoop(c)

	return c, nil
}
