// Package conf provides configuration management using Viper.
// It loads a YAML file, applies defaults and lets BULWARK_ prefixed
// environment variables override any key.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// checkEntry is the on-disk shape of consistency.checks[].
type checkEntry struct {
	EntityName      string   `mapstructure:"entity_name"`
	Table           string   `mapstructure:"table"`
	CacheKeyPrefix  string   `mapstructure:"cache_key_prefix"`
	IDField         string   `mapstructure:"id_field"`
	FieldsToCompare []string `mapstructure:"fields_to_compare"`
	AutoFix         bool     `mapstructure:"auto_fix"`
	Enabled         *bool    `mapstructure:"enabled"`
	Cron            string   `mapstructure:"cron"`
}

// NewBootstrap loads configuration from configPath.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Required:
//   - MYSQL_DSN or BULWARK_DATA_DATABASE_SOURCE: MySQL connection string
//
// Kafka is optional; without brokers the producer and consumer run disconnected.
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BULWARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "BULWARK_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "REDIS_ADDR", "BULWARK_DATA_REDIS_ADDR")
	_ = v.BindEnv("data.redis.password", "REDIS_PASSWORD", "BULWARK_DATA_REDIS_PASSWORD")
	_ = v.BindEnv("data.kafka.brokers", "KAFKA_BROKERS", "BULWARK_DATA_KAFKA_BROKERS")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	checks, err := loadChecks(v)
	if err != nil {
		return nil, err
	}

	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
			Grpc: &Server_GRPC{
				Network: v.GetString("server.grpc.network"),
				Addr:    v.GetString("server.grpc.addr"),
				Timeout: durationpb.New(v.GetDuration("server.grpc.timeout")),
			},
		},
		Data: &Data{
			Database: &Data_Database{
				Driver:          v.GetString("data.database.driver"),
				Source:          v.GetString("data.database.source"),
				MaxIdleConns:    v.GetInt32("data.database.max_idle_conns"),
				MaxOpenConns:    v.GetInt32("data.database.max_open_conns"),
				ConnMaxLifetime: durationpb.New(v.GetDuration("data.database.conn_max_lifetime")),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				Db:           v.GetInt32("data.redis.db"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
			Kafka: &Data_Kafka{
				Brokers:         splitList(v.GetStringSlice("data.kafka.brokers")),
				GroupId:         v.GetString("data.kafka.group_id"),
				ClientId:        v.GetString("data.kafka.client_id"),
				PollTimeout:     durationpb.New(v.GetDuration("data.kafka.poll_timeout")),
				DeliveryTimeout: durationpb.New(v.GetDuration("data.kafka.delivery_timeout")),
				ConnectTimeout:  durationpb.New(v.GetDuration("data.kafka.connect_timeout")),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Breaker: &Breaker{
			Defaults: breakerSettings(v, "breaker.defaults"),
			Database: breakerSettings(v, "breaker.database"),
			Cache:    breakerSettings(v, "breaker.cache"),
		},
		Retry: &Retry{
			MaxRetries:        v.GetInt32("retry.max_retries"),
			InitialBackoff:    durationpb.New(v.GetDuration("retry.initial_backoff")),
			BackoffMultiplier: v.GetFloat64("retry.backoff_multiplier"),
			MaxBackoff:        durationpb.New(v.GetDuration("retry.max_backoff")),
		},
		DeadLetter: &DeadLetter{
			AlertEvery:     v.GetInt64("dead_letter.alert_every"),
			RecentCapacity: v.GetInt32("dead_letter.recent_capacity"),
		},
		Consistency: &Consistency{
			Cron:           v.GetString("consistency.cron"),
			AlertThreshold: v.GetInt32("consistency.alert_threshold"),
			BatchSize:      v.GetInt32("consistency.batch_size"),
			FixRate:        v.GetFloat64("consistency.fix_rate"),
			CacheTtl:       durationpb.New(v.GetDuration("consistency.cache_ttl")),
			ReportTopic:    v.GetString("consistency.report_topic"),
			RequestTopic:   v.GetString("consistency.request_topic"),
			Checks:         checks,
		},
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}
	return bc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)
	v.SetDefault("server.grpc.network", "tcp")
	v.SetDefault("server.grpc.addr", ":9000")
	v.SetDefault("server.grpc.timeout", 30*time.Second)

	v.SetDefault("data.database.driver", "mysql")
	v.SetDefault("data.database.max_idle_conns", 10)
	v.SetDefault("data.database.max_open_conns", 50)
	v.SetDefault("data.database.conn_max_lifetime", time.Hour)

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	v.SetDefault("data.kafka.group_id", "bulwark")
	v.SetDefault("data.kafka.client_id", "bulwark")
	v.SetDefault("data.kafka.poll_timeout", 100*time.Millisecond)
	v.SetDefault("data.kafka.delivery_timeout", 5*time.Second)
	v.SetDefault("data.kafka.connect_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	for _, preset := range []string{"breaker.defaults", "breaker.database", "breaker.cache"} {
		v.SetDefault(preset+".enabled", true)
	}

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.initial_backoff", time.Second)
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("retry.max_backoff", 30*time.Second)

	v.SetDefault("dead_letter.alert_every", 100)
	v.SetDefault("dead_letter.recent_capacity", 256)

	// 每天凌晨 3 点，低峰期
	v.SetDefault("consistency.cron", "0 3 * * *")
	v.SetDefault("consistency.alert_threshold", 10)
	v.SetDefault("consistency.batch_size", 500)
	v.SetDefault("consistency.fix_rate", 200.0)
	v.SetDefault("consistency.report_topic", "consistency.reports")
	v.SetDefault("consistency.request_topic", "consistency.requests")
}

func breakerSettings(v *viper.Viper, prefix string) *Breaker_Settings {
	s := &Breaker_Settings{
		Timeout:         durationpb.New(v.GetDuration(prefix + ".timeout")),
		ResetTimeout:    durationpb.New(v.GetDuration(prefix + ".reset_timeout")),
		RollingWindow:   durationpb.New(v.GetDuration(prefix + ".rolling_window")),
		RollingBuckets:  v.GetInt32(prefix + ".rolling_buckets"),
		VolumeThreshold: v.GetUint32(prefix + ".volume_threshold"),
		Enabled:         v.GetBool(prefix + ".enabled"),
	}
	if key := prefix + ".error_threshold_percentage"; v.IsSet(key) {
		p := v.GetFloat64(key)
		s.ErrorThresholdPercentage = &p
	}
	return s
}

func loadChecks(v *viper.Viper) ([]*Consistency_Check, error) {
	var entries []checkEntry
	if err := v.UnmarshalKey("consistency.checks", &entries); err != nil {
		return nil, fmt.Errorf("failed to parse consistency.checks: %w", err)
	}

	checks := make([]*Consistency_Check, 0, len(entries))
	for _, e := range entries {
		enabled := true
		if e.Enabled != nil {
			enabled = *e.Enabled
		}
		checks = append(checks, &Consistency_Check{
			EntityName:      e.EntityName,
			Table:           e.Table,
			CacheKeyPrefix:  e.CacheKeyPrefix,
			IdField:         e.IDField,
			FieldsToCompare: e.FieldsToCompare,
			AutoFix:         e.AutoFix,
			Enabled:         enabled,
			Cron:            e.Cron,
		})
	}
	return checks, nil
}

// splitList accepts both YAML lists and a comma separated env value.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate checks required fields and value ranges.
// It reports every problem at once.
func Validate(bc *Bootstrap) error {
	var problems []string

	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		problems = append(problems, "data.database.source (MYSQL_DSN) is required")
	}
	if bc.Data == nil || bc.Data.Redis == nil || bc.Data.Redis.Addr == "" {
		problems = append(problems, "data.redis.addr is required")
	}

	if r := bc.Retry; r != nil {
		if r.MaxRetries < 0 {
			problems = append(problems, "retry.max_retries must be >= 0")
		}
		if r.InitialBackoff.AsDuration() <= 0 {
			problems = append(problems, "retry.initial_backoff must be > 0")
		}
		if r.BackoffMultiplier < 1 {
			problems = append(problems, "retry.backoff_multiplier must be >= 1")
		}
		if r.MaxBackoff.AsDuration() < r.InitialBackoff.AsDuration() {
			problems = append(problems, "retry.max_backoff must be >= retry.initial_backoff")
		}
	}

	if d := bc.DeadLetter; d != nil && d.AlertEvery < 1 {
		problems = append(problems, "dead_letter.alert_every must be >= 1")
	}

	if c := bc.Consistency; c != nil {
		if c.AlertThreshold < 0 {
			problems = append(problems, "consistency.alert_threshold must be >= 0")
		}
		if c.BatchSize < 1 {
			problems = append(problems, "consistency.batch_size must be >= 1")
		}
		seen := make(map[string]bool, len(c.Checks))
		for i, check := range c.Checks {
			switch {
			case check.EntityName == "":
				problems = append(problems, fmt.Sprintf("consistency.checks[%d].entity_name is required", i))
			case seen[check.EntityName]:
				problems = append(problems, fmt.Sprintf("consistency.checks[%d]: duplicate entity %q", i, check.EntityName))
			}
			seen[check.EntityName] = true
			if check.CacheKeyPrefix == "" {
				problems = append(problems, fmt.Sprintf("consistency.checks[%d].cache_key_prefix is required", i))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
