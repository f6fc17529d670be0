package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Service types
const (
	ServiceTypeLocal  = "local"
	ServiceTypeS3     = "s3"
	ServiceTypeAzure  = "azure"
	ServiceTypeSwift  = "swift"
	ServiceTypeGoogle = "google"
	ServiceTypeMemory = "memory"
)

// DefaultServiceName is used when no service is configured
const DefaultServiceName = "files"

// Config holds all configuration for blobgate
type Config struct {
	// Server configuration
	Listen    string `mapstructure:"listen"`
	DataDir   string `mapstructure:"data_dir"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json, text

	// TLS configuration
	EnableTLS bool   `mapstructure:"enable_tls"`
	CertFile  string `mapstructure:"cert_file"`
	KeyFile   string `mapstructure:"key_file"`

	// Scratch space for zip export/import and spooled uploads
	TempDir string `mapstructure:"temp_dir"`

	// Upload limits
	MaxUploadSize int64         `mapstructure:"max_upload_size"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`

	// Storage services exposed under /{service}
	Services []ServiceConfig `mapstructure:"services"`

	// Reject every mutating request
	ReadOnly bool `mapstructure:"read_only"`

	// Allowed CORS origins; empty allows any origin
	CORSOrigins []string `mapstructure:"cors_origins"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// RateLimitConfig defines per-client request rate limiting
type RateLimitConfig struct {
	Enable            bool    `mapstructure:"enable"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// ServiceConfig defines one storage service and the backend behind it
type ServiceConfig struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"` // local, s3, azure, swift, google, memory

	// Create containers on first write; nil means enabled
	AutoCreate *bool `mapstructure:"auto_create"`

	// Local backend
	Root string `mapstructure:"root"`

	// S3 backend
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PathStyle bool   `mapstructure:"path_style"`

	// Azure backend
	Account    string `mapstructure:"account"`
	AccountKey string `mapstructure:"account_key"`

	// Swift (OpenStack / Rackspace) backend
	Username   string `mapstructure:"username"`
	APIKey     string `mapstructure:"api_key"`
	TenantName string `mapstructure:"tenant_name"`
	AuthURL    string `mapstructure:"auth_url"`

	// Google Cloud Storage backend
	ProjectID       string `mapstructure:"project_id"`
	CredentialsJSON string `mapstructure:"credentials_json"`
}

// AutoCreateEnabled reports whether writes may create missing containers
func (s ServiceConfig) AutoCreateEnabled() bool {
	return s.AutoCreate == nil || *s.AutoCreate
}

// AuditConfig defines the audit trail configuration
type AuditConfig struct {
	Enable        bool   `mapstructure:"enable"`
	RetentionDays int    `mapstructure:"retention_days"`
	DBPath        string `mapstructure:"db_path"`
}

// MetricsConfig defines metrics configuration
type MetricsConfig struct {
	Enable   bool   `mapstructure:"enable"`
	Path     string `mapstructure:"path"`
	Interval int    `mapstructure:"interval"` // seconds between system gauge updates
}

// Load loads configuration from flags, an optional config file and the environment
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("BLOBGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8090")
	// data_dir has no default; it must be configured
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("enable_tls", false)

	v.SetDefault("temp_dir", "")
	v.SetDefault("max_upload_size", int64(512<<20))
	v.SetDefault("fetch_timeout", 60*time.Second)

	v.SetDefault("read_only", false)

	v.SetDefault("rate_limit.enable", false)
	v.SetDefault("rate_limit.requests_per_second", 100.0)
	v.SetDefault("rate_limit.burst", 200)

	v.SetDefault("audit.enable", true)
	v.SetDefault("audit.retention_days", 90)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.interval", 15)
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"listen":     "listen",
		"data-dir":   "data_dir",
		"log-level":  "log_level",
		"log-format": "log_format",
		"enable-tls": "enable_tls",
		"cert-file":  "cert_file",
		"key-file":   "key_file",
		"read-only":  "read_only",
	}

	for flag, key := range flags {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or BLOBGATE_DATA_DIR environment variable")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(cfg.DataDir, "tmp")
	}
	if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	if cfg.EnableTLS {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert-file or key-file not specified")
		}
	}

	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = filepath.Join(cfg.DataDir, "audit.db")
	}

	if len(cfg.Services) == 0 {
		cfg.Services = []ServiceConfig{{
			Name: DefaultServiceName,
			Type: ServiceTypeLocal,
		}}
	}

	seen := make(map[string]bool, len(cfg.Services))
	for i := range cfg.Services {
		svc := &cfg.Services[i]
		if err := validateService(cfg, svc); err != nil {
			return fmt.Errorf("service %d (%s): %w", i, svc.Name, err)
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true
	}

	return nil
}

func validateService(cfg *Config, svc *ServiceConfig) error {
	if svc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.HasPrefix(svc.Name, "_") || strings.ContainsAny(svc.Name, "/ ") {
		return fmt.Errorf("invalid name %q: must not start with '_' or contain '/' or spaces", svc.Name)
	}
	if svc.Type == "" {
		svc.Type = ServiceTypeLocal
	}

	switch svc.Type {
	case ServiceTypeLocal:
		if svc.Root == "" {
			svc.Root = filepath.Join(cfg.DataDir, "storage", svc.Name)
		}
		if !filepath.IsAbs(svc.Root) {
			if absRoot, err := filepath.Abs(svc.Root); err == nil {
				svc.Root = absRoot
			}
		}
		if _, err := os.Stat(svc.Root); os.IsNotExist(err) {
			logrus.Debugf("Creating storage root: %s", svc.Root)
			if err := os.MkdirAll(svc.Root, 0755); err != nil {
				return fmt.Errorf("failed to create storage root: %w", err)
			}
		}
	case ServiceTypeS3:
		if svc.Region == "" {
			svc.Region = "us-east-1"
		}
	case ServiceTypeAzure:
		if svc.Account == "" || svc.AccountKey == "" {
			return fmt.Errorf("azure service requires account and account_key")
		}
	case ServiceTypeSwift:
		if svc.Username == "" || svc.APIKey == "" || svc.AuthURL == "" {
			return fmt.Errorf("swift service requires username, api_key and auth_url")
		}
	case ServiceTypeGoogle:
		if svc.ProjectID == "" || svc.CredentialsJSON == "" {
			return fmt.Errorf("google service requires project_id and credentials_json")
		}
	case ServiceTypeMemory:
	default:
		return fmt.Errorf("unsupported service type %q", svc.Type)
	}

	return nil
}
