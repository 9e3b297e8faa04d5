package config

import (
	"fmt"
	"time"

	"mcsync/pkg/types"

	"github.com/spf13/viper"
)

// Settings 是配置的类型化视图
// 核心包只接收 Settings 中的值，不直接读 viper
type Settings struct {
	Root string

	HTTPTimeout time.Duration
	UserAgent   string

	Concurrency int
	Attempts    int
	Backoff     float64
	BaseDelay   time.Duration

	CatalogURL   string
	ResourcesURL string

	FetchAttempts  int
	FetchBaseDelay time.Duration

	Platforms types.PlatformSet
	Exclude   []string

	Cache  CacheSettings
	Ledger LedgerSettings

	MetricsFile string

	LogLevel  string
	LogFormat string
}

type CacheSettings struct {
	Type string // disk | s3

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string

	RedisURL string
	RedisTTL time.Duration
}

type LedgerSettings struct {
	Driver string // sqlite | postgres | none
	DSN    string
}

// Current 读取当前 viper 状态
func Current() (*Settings, error) {
	platforms, err := parsePlatforms(viper.GetStringSlice("platforms"))
	if err != nil {
		return nil, err
	}

	return &Settings{
		Root: viper.GetString("root"),

		HTTPTimeout: viper.GetDuration("http.timeout"),
		UserAgent:   viper.GetString("http.user_agent"),

		Concurrency: viper.GetInt("transfer.concurrency"),
		Attempts:    viper.GetInt("transfer.attempts"),
		Backoff:     viper.GetFloat64("transfer.backoff"),
		BaseDelay:   viper.GetDuration("transfer.base_delay"),

		CatalogURL:   viper.GetString("endpoints.catalog"),
		ResourcesURL: viper.GetString("endpoints.resources"),

		FetchAttempts:  viper.GetInt("fetch.attempts"),
		FetchBaseDelay: viper.GetDuration("fetch.base_delay"),

		Platforms: platforms,
		Exclude:   viper.GetStringSlice("exclude"),

		Cache: CacheSettings{
			Type:        viper.GetString("cache.type"),
			S3Endpoint:  viper.GetString("cache.s3.endpoint"),
			S3Region:    viper.GetString("cache.s3.region"),
			S3Bucket:    viper.GetString("cache.s3.bucket"),
			S3Prefix:    viper.GetString("cache.s3.prefix"),
			S3AccessKey: viper.GetString("cache.s3.access_key"),
			S3SecretKey: viper.GetString("cache.s3.secret_key"),
			RedisURL:    viper.GetString("cache.redis.url"),
			RedisTTL:    viper.GetDuration("cache.redis.ttl"),
		},
		Ledger: LedgerSettings{
			Driver: viper.GetString("ledger.driver"),
			DSN:    viper.GetString("ledger.dsn"),
		},

		MetricsFile: viper.GetString("metrics.file"),

		LogLevel:  viper.GetString("log.level"),
		LogFormat: viper.GetString("log.format"),
	}, nil
}

func parsePlatforms(names []string) (types.PlatformSet, error) {
	if len(names) == 0 {
		return types.FullSet(), nil
	}
	set := types.NewPlatformSet()
	for _, n := range names {
		p := types.Platform(n)
		if !isKnown(p) {
			return nil, fmt.Errorf("unknown platform %q", n)
		}
		set[p] = struct{}{}
	}
	return set, nil
}

func isKnown(p types.Platform) bool {
	for _, k := range types.AllPlatforms {
		if k == p {
			return true
		}
	}
	return false
}
