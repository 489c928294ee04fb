package config

import (
	"time"
)

// Config is the root application configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"                env-required:"true"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

// SchedulerConfig holds collection-level scheduling parameters.
type SchedulerConfig struct {
	// CollectionEpochRaw is the RFC 3339 moment day numbers count from.
	CollectionEpochRaw string        `yaml:"collection_epoch" env:"SCHED_COLLECTION_EPOCH" env-default:"2024-01-01T00:00:00Z"`
	RolloverHour       int           `yaml:"rollover_hour"    env:"SCHED_ROLLOVER_HOUR"    env-default:"4"`
	CollapseWindow     time.Duration `yaml:"collapse_window"  env:"SCHED_COLLAPSE_WINDOW"  env-default:"20m"`
	NewSpread          string        `yaml:"new_spread"       env:"SCHED_NEW_SPREAD"       env-default:"distribute"`
	QueueBatch         int           `yaml:"queue_batch"      env:"SCHED_QUEUE_BATCH"      env-default:"50"`
	Version            int           `yaml:"version"          env:"SCHED_VERSION"          env-default:"2"`

	// Default steps for newly created configuration groups.
	NewStepsRaw   string `yaml:"new_steps"   env:"SCHED_NEW_STEPS"   env-default:"1m,10m"`
	LapseStepsRaw string `yaml:"lapse_steps" env:"SCHED_LAPSE_STEPS" env-default:"10m"`

	// CollectionEpoch is parsed from CollectionEpochRaw during validation.
	CollectionEpoch time.Time `yaml:"-" env:"-"`
	// NewSteps is parsed from NewStepsRaw during validation.
	NewSteps []time.Duration `yaml:"-" env:"-"`
	// LapseSteps is parsed from LapseStepsRaw during validation.
	LapseSteps []time.Duration `yaml:"-" env:"-"`
}
