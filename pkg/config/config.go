// Package config holds the settings every path operation reads: credentials,
// transfer tuning and retry behaviour.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/dashjay/obspath/pkg/obserr"
)

const (
	// UserConfigFile is merged over the defaults when present.
	UserConfigFile = "~/.obspath.yaml"

	DefaultSwiftAuthURL = "http://127.0.0.1:8080/auth/v1.0"
)

type Config struct {
	S3            S3Config       `mapstructure:"s3"`
	S3Upload      TransferConfig `mapstructure:"s3_upload"`
	S3Download    TransferConfig `mapstructure:"s3_download"`
	Swift         SwiftConfig    `mapstructure:"swift"`
	SwiftUpload   TransferConfig `mapstructure:"swift_upload"`
	SwiftDownload TransferConfig `mapstructure:"swift_download"`
	SwiftDelete   TransferConfig `mapstructure:"swift_delete"`
	Retry         RetryConfig    `mapstructure:"retry"`

	// Progress draws byte progress bars for uploads and downloads.
	Progress bool   `mapstructure:"progress"`
	LogLevel string `mapstructure:"log_level"`
}

type S3Config struct {
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
	DisableSSL     bool   `mapstructure:"disable_ssl"`
}

type SwiftConfig struct {
	AuthURL    string `mapstructure:"auth_url"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	TempURLKey string `mapstructure:"temp_url_key"`
	// NumRetries overrides Retry.NumRetries for swift calls when >= 0.
	NumRetries int `mapstructure:"num_retries"`
	// AuthCachePath is a bbolt file caching auth tokens per tenant.
	AuthCachePath string `mapstructure:"auth_cache_path"`
}

type TransferConfig struct {
	SegmentSize   string `mapstructure:"segment_size"`
	ObjectThreads int    `mapstructure:"object_threads"`
	SkipIdentical bool   `mapstructure:"skip_identical"`
	Checksum      bool   `mapstructure:"checksum"`
	// UseSLO writes swift files larger than SegmentSize as static large
	// objects, dynamic ones when false or when the cluster lacks SLO.
	UseSLO bool `mapstructure:"use_slo"`
}

// SegmentBytes is SegmentSize parsed; invalid values fall back to 0 which
// lets the SDK choose.
func (t TransferConfig) SegmentBytes() int64 {
	n, err := ParseSize(t.SegmentSize)
	if err != nil {
		return 0
	}
	return n
}

type RetryConfig struct {
	NumRetries   int           `mapstructure:"num_retries"`
	InitialSleep time.Duration `mapstructure:"initial_sleep"`
}

func Default() *Config {
	return &Config{
		S3: S3Config{
			Region: "us-east-1",
		},
		S3Upload:   TransferConfig{SegmentSize: "8M", ObjectThreads: 10},
		S3Download: TransferConfig{SegmentSize: "8M", ObjectThreads: 10},
		Swift: SwiftConfig{
			AuthURL:    DefaultSwiftAuthURL,
			NumRetries: -1,
		},
		SwiftUpload:   TransferConfig{SegmentSize: "1G", ObjectThreads: 10, Checksum: true, UseSLO: true},
		SwiftDownload: TransferConfig{ObjectThreads: 10, Checksum: true},
		SwiftDelete:   TransferConfig{ObjectThreads: 10},
		Retry: RetryConfig{
			NumRetries:   0,
			InitialSleep: time.Second,
		},
		LogLevel: "info",
	}
}

// Clone returns a deep enough copy for per-call overrides.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

// SwiftRetries is the retry count for swift calls.
func (c *Config) SwiftRetries() int {
	if c.Swift.NumRetries >= 0 {
		return c.Swift.NumRetries
	}
	return c.Retry.NumRetries
}

func newViper() *viper.Viper {
	v := viper.New()
	d := Default()
	v.SetDefault("s3.region", d.S3.Region)
	v.SetDefault("s3_upload.segment_size", d.S3Upload.SegmentSize)
	v.SetDefault("s3_upload.object_threads", d.S3Upload.ObjectThreads)
	v.SetDefault("s3_download.segment_size", d.S3Download.SegmentSize)
	v.SetDefault("s3_download.object_threads", d.S3Download.ObjectThreads)
	v.SetDefault("swift.auth_url", d.Swift.AuthURL)
	v.SetDefault("swift.num_retries", d.Swift.NumRetries)
	v.SetDefault("swift_upload.segment_size", d.SwiftUpload.SegmentSize)
	v.SetDefault("swift_upload.object_threads", d.SwiftUpload.ObjectThreads)
	v.SetDefault("swift_upload.checksum", d.SwiftUpload.Checksum)
	v.SetDefault("swift_upload.use_slo", d.SwiftUpload.UseSLO)
	v.SetDefault("swift_download.object_threads", d.SwiftDownload.ObjectThreads)
	v.SetDefault("swift_download.checksum", d.SwiftDownload.Checksum)
	v.SetDefault("swift_delete.object_threads", d.SwiftDelete.ObjectThreads)
	v.SetDefault("retry.num_retries", d.Retry.NumRetries)
	v.SetDefault("retry.initial_sleep", d.Retry.InitialSleep)
	v.SetDefault("log_level", d.LogLevel)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, obserr.New(obserr.KindConfiguration, "decode settings", err)
	}
	return &cfg, nil
}

// FromFile reads settings from a single file over the defaults. The format
// follows the extension (yaml, json, toml).
func FromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, obserr.New(obserr.KindConfiguration, "read settings "+path, err)
	}
	return decode(v)
}

// Load layers defaults, the user file, the explicit file (if any) and the
// environment, later sources winning.
func Load(path string) (*Config, error) {
	v := newViper()

	user, err := homedir.Expand(UserConfigFile)
	if err == nil {
		if _, statErr := os.Stat(user); statErr == nil {
			v.SetConfigFile(user)
			if err := v.MergeInConfig(); err != nil {
				return nil, obserr.New(obserr.KindConfiguration, "read settings "+user, err)
			}
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, obserr.New(obserr.KindConfiguration, "read settings "+path, err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv copies the OpenStack style variables into the swift section.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("OS_USERNAME"); ok {
		c.Swift.Username = v
	}
	if v, ok := lookup("OS_PASSWORD"); ok {
		c.Swift.Password = v
	}
	if v, ok := lookup("OS_AUTH_URL"); ok && v != "" {
		c.Swift.AuthURL = v
	}
	if v, ok := lookup("OS_TEMP_URL_KEY"); ok {
		c.Swift.TempURLKey = v
	}
	if v, ok := lookup("OS_NUM_RETRIES"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return obserr.New(obserr.KindConfiguration, "OS_NUM_RETRIES must be an integer", errors.WithStack(err))
		}
		c.Swift.NumRetries = n
	}
	return nil
}

// ValidateSwift reports missing swift credentials before any network call.
func (c *Config) ValidateSwift() error {
	return c.Swift.Validate()
}

// Validate checks that the credentials needed to authenticate are set.
func (s SwiftConfig) Validate() error {
	var missing []string
	if s.Username == "" {
		missing = append(missing, "OS_USERNAME")
	}
	if s.Password == "" {
		missing = append(missing, "OS_PASSWORD")
	}
	if len(missing) > 0 {
		return obserr.Configuration("swift credentials missing: set %s or the swift section of the settings",
			strings.Join(missing, ", "))
	}
	return nil
}

var sizeUnits = map[byte]int64{
	'B': 1,
	'K': 1 << 10,
	'M': 1 << 20,
	'G': 1 << 30,
	'T': 1 << 40,
}

// ParseSize parses byte counts such as "512", "64K", "8M" or "1G".
// Units are powers of 1024; a trailing "B" or "iB" is accepted.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, obserr.Validation("empty size")
	}
	s = strings.TrimSuffix(strings.TrimSuffix(s, "IB"), "B")
	if s == "" {
		return 0, obserr.Validation("size without a number")
	}
	mult := int64(1)
	if m, ok := sizeUnits[s[len(s)-1]]; ok {
		mult = m
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, obserr.Validation("invalid size %q", s)
	}
	return n * mult, nil
}
