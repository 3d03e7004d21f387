package dbpool

import (
	"math"
	"time"

	"github.com/relaypool/dbpool/driver"
)

// Defaults, ported from the reference DataSourceConfig.
const (
	DefaultConnectionTimeout  = 30 * time.Second
	DefaultValidationTimeout  = 5 * time.Second
	DefaultRequestTimeout     = 60 * time.Second
	DefaultBackoffPeriod      = 1 * time.Second
	DefaultInactivityTimeout  = 300 * time.Second
	DefaultPruneInterval      = 60 * time.Second
	DefaultStatementCacheSize = 100
)

// Config is the clamped configuration surface for a Pool. Zero values are
// replaced by the defaults documented on each field during New.
type Config struct {
	// DriverName selects a RawDriver registered with RegisterDriver.
	DriverName string
	DSN        string
	Username   string
	Password   string

	Catalog    string
	Schema     string
	ReadOnly   bool
	Isolation  driver.IsolationLevel
	AutoCommit bool

	// MinSize is the opener's target floor. Default 0.
	MinSize int
	// MaxSize is the opener's ceiling and the borrow-side cap. Default
	// unbounded.
	MaxSize int

	// ConnectionTimeout bounds Get and the driver login. Falls back to
	// the configured RequestTimeout when zero, then to
	// DefaultConnectionTimeout.
	ConnectionTimeout time.Duration
	ValidateOnBorrow  bool
	// ValidationTimeout bounds a validation probe. Falls back to the
	// configured ConnectionTimeout when zero, then to
	// DefaultValidationTimeout.
	ValidationTimeout time.Duration
	// RequestTimeout is applied to the driver per statement execution.
	RequestTimeout time.Duration

	BackoffPeriod     time.Duration
	BackoffMultiplier float64
	// BackoffLimit clamps backoff growth; zero means unclamped.
	BackoffLimit time.Duration

	// InactivityTimeout is the pruner's dwell period; zero disables
	// pruning.
	InactivityTimeout time.Duration
	// MaximumLifetime is the end-of-life age; zero means unbounded.
	MaximumLifetime time.Duration
	// PruneInterval is the pruner's tick cadence; zero disables pruning.
	PruneInterval time.Duration

	CacheMetadata      bool
	StatementCacheSize int
	LogArguments       bool

	// SessionController and StatementEnhancer are optional collaborator
	// hooks; see session.go.
	SessionController SessionController
	StatementEnhancer StatementEnhancer

	// ApplicationName, when set, is applied via SetClientInfo during
	// open (see §4.7 of the design).
	ApplicationName string

	// Logger receives structured pool events. Defaults to a no-op logger
	// when nil (see log.go).
	Logger Logger
}

// withDefaults returns a copy of cfg with zero-valued fields replaced by
// their documented defaults and out-of-range values clamped.
func (cfg Config) withDefaults() Config {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = math.MaxInt32
	}
	if cfg.MinSize < 0 {
		cfg.MinSize = 0
	}
	if cfg.MinSize > cfg.MaxSize {
		cfg.MinSize = cfg.MaxSize
	}

	if cfg.ValidationTimeout <= 0 {
		cfg.ValidationTimeout = cfg.ConnectionTimeout
	}
	if cfg.ValidationTimeout <= 0 {
		cfg.ValidationTimeout = DefaultValidationTimeout
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = cfg.RequestTimeout
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	if cfg.BackoffPeriod <= 0 {
		cfg.BackoffPeriod = DefaultBackoffPeriod
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 1
	}
	if cfg.BackoffLimit < 0 {
		cfg.BackoffLimit = 0
	}

	if cfg.InactivityTimeout < 0 {
		cfg.InactivityTimeout = 0
	} else if cfg.InactivityTimeout == 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.PruneInterval < 0 {
		cfg.PruneInterval = 0
	} else if cfg.PruneInterval == 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if cfg.MaximumLifetime < 0 {
		cfg.MaximumLifetime = 0
	}

	// StatementCacheSize follows the same "negative disables, zero means
	// default" convention as time.Duration fields above: a caller who
	// wants the cache off entirely sets -1, not 0, since the reference
	// DataSourceConfig treats 0 as "not yet configured" and defaults it
	// to 100.
	if cfg.StatementCacheSize < 0 {
		cfg.StatementCacheSize = 0
	} else if cfg.StatementCacheSize == 0 {
		cfg.StatementCacheSize = DefaultStatementCacheSize
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger{}
	}

	return cfg
}
