// Package config loads hub configuration the way the teacher's binaries
// do: typed env vars via kelseyhightower/envconfig, optionally layered
// with a YAML file read through spf13/viper for local overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Config binds the environment variables named in spec.md §6.
type Config struct {
	FederationJWTSecret  string        `envconfig:"FEDERATION_JWT_SECRET" required:"true"`
	FederationSyncSecs   int           `envconfig:"FEDERATION_SYNC_INTERVAL" default:"300"`
	MongoURI             string        `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	MaxConcurrentReqs    int           `envconfig:"MAX_CONCURRENT_REQUESTS" default:"10"`
	HeartbeatIntervalMS  int           `envconfig:"HEARTBEAT_INTERVAL_MS" default:"30000"`
	BundleSigningKeyID   string        `envconfig:"BUNDLE_SIGNING_KEY_ID" default:""`
	BundleSigningKeyPath string        `envconfig:"BUNDLE_SIGNING_KEY_PATH" default:""`
	TLSCABundlePath      string        `envconfig:"TLS_CA_BUNDLE_PATH" default:""`
	ConfigFile           string        `envconfig:"HUB_CONFIG_FILE" default:""`

	// FederationPeers maps instance code -> base URL, assembled from any
	// env var matching <CODE>_FEDERATION_ENDPOINT (e.g. USA_FEDERATION_ENDPOINT).
	FederationPeers map[string]string `ignored:"true"`
}

// FederationSyncInterval is FederationSyncSecs as a time.Duration.
func (c Config) FederationSyncInterval() time.Duration {
	return time.Duration(c.FederationSyncSecs) * time.Second
}

// HeartbeatInterval is HeartbeatIntervalMS as a time.Duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// MaxHeartbeatAge is the spec.md §4.2 default: 3x the heartbeat interval.
func (c Config) MaxHeartbeatAge() time.Duration {
	return 3 * c.HeartbeatInterval()
}

// Load reads environment variables (and, if HUB_CONFIG_FILE is set or a
// ./hub.yaml exists, a YAML overlay via viper) into a Config.
func Load(environ []string) (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("loading env config: %w", err)
	}

	v := viper.New()
	v.SetConfigName("hub")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if cfg.ConfigFile != "" {
		v.SetConfigFile(cfg.ConfigFile)
	}
	if err := v.ReadInConfig(); err == nil {
		if v.IsSet("bundle_signing_key_id") && cfg.BundleSigningKeyID == "" {
			cfg.BundleSigningKeyID = v.GetString("bundle_signing_key_id")
		}
		if v.IsSet("bundle_signing_key_path") && cfg.BundleSigningKeyPath == "" {
			cfg.BundleSigningKeyPath = v.GetString("bundle_signing_key_path")
		}
		if v.IsSet("tls_ca_bundle_path") && cfg.TLSCABundlePath == "" {
			cfg.TLSCABundlePath = v.GetString("tls_ca_bundle_path")
		}
	}
	// a missing/unreadable file is not fatal: env vars are authoritative,
	// the YAML file is a local-dev convenience layer only.

	cfg.FederationPeers = parsePeers(environ)
	return cfg, nil
}

const peerSuffix = "_FEDERATION_ENDPOINT"

func parsePeers(environ []string) map[string]string {
	peers := map[string]string{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || v == "" {
			continue
		}
		if strings.HasSuffix(k, peerSuffix) {
			code := strings.TrimSuffix(k, peerSuffix)
			if code == "" {
				continue
			}
			peers[strings.ToUpper(code)] = v
		}
	}
	return peers
}
