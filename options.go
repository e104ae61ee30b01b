package featurestage

// Option configures a Reader or a Writer.
type Option func(*config)

type config struct {
	registry *Registry
	types    *TypeResolver
	logger   Logger
	metrics  *Metrics
}

func newConfig(opts []Option) config {
	cfg := config{
		registry: DefaultRegistry(),
		logger:   NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.types == nil {
		cfg.types = DefaultTypes()
	}
	return cfg
}

// WithRegistry sets the model registry used to resolve class names.
func WithRegistry(registry *Registry) Option {
	return func(c *config) {
		if registry != nil {
			c.registry = registry
		}
	}
}

// WithTypes sets the resolver for feature and value type names.
func WithTypes(types *TypeResolver) Option {
	return func(c *config) {
		c.types = types
	}
}

// WithLogger sets the logger
func WithLogger(logger Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables metrics collection.
func WithMetrics(metrics *Metrics) Option {
	return func(c *config) {
		c.metrics = metrics
	}
}
