// Package conf handles loading and accessing application settings.
package conf

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled bool
	Path    string
}

// BrokerSettings holds the AMQP broker connection settings. MaxConnections
// and MaxChannels bound total concurrent in-flight broker operations per
// process; Prefetch is the per-consumer unacknowledged message limit.
type BrokerSettings struct {
	URL            string
	MaxConnections int
	MaxChannels    int
	Prefetch       int
}

// RPCSettings holds queue names and the client-side reply timeout. Queue
// names must match across client and worker processes.
type RPCSettings struct {
	Timeout         time.Duration
	ClaimQueue      string
	PredictionQueue string
	EvidenceQueue   string
}

// MonitoringSettings configures the monitoring event exchange and the
// aggregator consumer queue with its binding key patterns.
type MonitoringSettings struct {
	Exchange    string
	Queue       string
	BindingKeys []string
}

// SQLiteSettings contains settings for the SQLite database
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings contains settings for the MySQL database
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// OutputSettings selects the persistence backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// ClaimsSettings tunes the claim pipeline orchestrator.
type ClaimsSettings struct {
	// MinSentenceLength is the minimum number of non-whitespace characters a
	// sentence must have to become a claim candidate.
	MinSentenceLength int
	// ModelKeyIncludesVersion keys the model registry by (name, version)
	// instead of name alone.
	ModelKeyIncludesVersion bool
}

// PredictionSettings configures the model inference worker.
type PredictionSettings struct {
	MetadataPath string
	Keywords     []string
}

// TelemetrySettings configures the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool
	Listen  string
}

// MainSettings contains the main application settings
type MainSettings struct {
	Name string
	Log  LogConfig
}

// Settings contains all configuration options for the claimflow application.
type Settings struct {
	Debug bool

	Main       MainSettings
	Telemetry  TelemetrySettings
	Broker     BrokerSettings
	RPC        RPCSettings
	Monitoring MonitoringSettings
	Output     OutputSettings
	Claims     ClaimsSettings
	Prediction PredictionSettings
}

// Load reads the configuration file and environment into a Settings struct.
func Load() (*Settings, error) {
	setDefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/claimflow")
	viper.AddConfigPath("/etc/claimflow")

	viper.SetEnvPrefix("claimflow")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("fatal error reading config file: %w", err)
		}
		// No config file is fine, defaults plus env apply.
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return settings, nil
}
