package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Tenancy  TenancyConfig
	Verifier VerifierConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
	MigrationsPath string
}

type RedisConfig struct {
	URL string
}

type AuthConfig struct {
	JWTSecret string
}

type TenancyConfig struct {
	// BaseDomain is the platform domain; <slug>.<BaseDomain> hosts resolve
	// without any lookup.
	BaseDomain string
	// ProxyHost is the CNAME target handed out in DNS instructions.
	ProxyHost string
	// TrustIngressHeader allows a pre-set X-Tenant-ID header to bypass
	// resolution. Only enable on listeners reachable exclusively from
	// trusted internal ingress.
	TrustIngressHeader bool
	// BypassPathPrefixes skip resolution entirely (health checks etc).
	BypassPathPrefixes []string

	LocalCacheTTL    time.Duration
	RedisCacheTTL    time.Duration
	NegativeCacheTTL time.Duration
}

type VerifierConfig struct {
	Interval     time.Duration
	DNSTimeout   time.Duration
	ResolverAddr string
	// RecordPrefix names the TXT record checked for ownership proof:
	// <RecordPrefix>.<domain>.
	RecordPrefix string
	// DNSQueriesPerSecond caps outbound verification lookups per run.
	DNSQueriesPerSecond float64
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("TENANTEDGE")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("database.migrationspath", "migrations")
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("tenancy.basedomain", "storeward.de")
	viper.SetDefault("tenancy.proxyhost", "proxy.storeward.de")
	viper.SetDefault("tenancy.trustingressheader", false)
	viper.SetDefault("tenancy.bypasspathprefixes", []string{"/health", "/ready", "/metrics", "/api/v1/admin"})
	viper.SetDefault("tenancy.localcachettl", "5m")
	viper.SetDefault("tenancy.rediscachettl", "30m")
	viper.SetDefault("tenancy.negativecachettl", "1m")
	viper.SetDefault("verifier.interval", "5m")
	viper.SetDefault("verifier.dnstimeout", "5s")
	viper.SetDefault("verifier.resolveraddr", "8.8.8.8:53")
	viper.SetDefault("verifier.recordprefix", "_storeward")
	viper.SetDefault("verifier.dnsqueriespersecond", 10)

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}

	return &cfg, nil
}
