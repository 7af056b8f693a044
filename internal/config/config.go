package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Log output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
	FormatText    = "text"
	FormatAuto    = "auto"
)

const (
	defaultServerAddress           = "localhost:8888"
	defaultGracefulShutdownTimeout = 30 * time.Second
	defaultReadHeaderTimeout       = 10 * time.Second

	defaultCharset              = "utf-8"
	defaultDetectionSampleBytes = 64 * 1024

	defaultLogLevel              = LogLevelInfo
	defaultAccessLogEnabled      = true
	defaultAccessLogTarget       = "stdout"
	defaultAccessLogFormat       = FormatJSON
	defaultAccessLogRealIPHeader = "X-Forwarded-For"
	defaultErrorLogTarget        = "stderr"
	defaultErrorLogFormat        = FormatJSON
)

// Config is the top-level configuration structure for the server.
type Config struct {
	Server    *ServerConfig    `json:"server,omitempty" toml:"server,omitempty" yaml:"server,omitempty"`
	DirServer *DirServerConfig `json:"dir_server,omitempty" toml:"dir_server,omitempty" yaml:"dir_server,omitempty"`
	Logging   *LoggingConfig   `json:"logging,omitempty" toml:"logging,omitempty" yaml:"logging,omitempty"`

	originalFilePath string
}

// OriginalFilePath returns the absolute path the configuration was loaded from,
// or "" for programmatically built configurations.
func (c *Config) OriginalFilePath() string {
	if c == nil {
		return ""
	}
	return c.originalFilePath
}

// ServerConfig holds transport settings.
type ServerConfig struct {
	Address                 *string   `json:"address,omitempty" toml:"address,omitempty" yaml:"address,omitempty"`
	GracefulShutdownTimeout *Duration `json:"graceful_shutdown_timeout,omitempty" toml:"graceful_shutdown_timeout,omitempty" yaml:"graceful_shutdown_timeout,omitempty"`
	ReadHeaderTimeout       *Duration `json:"read_header_timeout,omitempty" toml:"read_header_timeout,omitempty" yaml:"read_header_timeout,omitempty"`
	TLSCertFile             *string   `json:"tls_cert_file,omitempty" toml:"tls_cert_file,omitempty" yaml:"tls_cert_file,omitempty"`
	TLSKeyFile              *string   `json:"tls_key_file,omitempty" toml:"tls_key_file,omitempty" yaml:"tls_key_file,omitempty"`
}

// TLSEnabled reports whether both TLS files are configured.
func (s *ServerConfig) TLSEnabled() bool {
	return s != nil && s.TLSCertFile != nil && *s.TLSCertFile != "" && s.TLSKeyFile != nil && *s.TLSKeyFile != ""
}

// DirServerConfig configures the directory serving handler.
type DirServerConfig struct {
	// DocumentRoot is the served root. After LoadConfig it is absolute and clean.
	DocumentRoot string `json:"document_root" toml:"document_root" yaml:"document_root"`

	// DefaultCharset is reported for text files whose encoding cannot be detected.
	DefaultCharset string `json:"default_charset,omitempty" toml:"default_charset,omitempty" yaml:"default_charset,omitempty"`

	// DetectionSampleBytes bounds how much of a text file is fed to the charset detector.
	DetectionSampleBytes int `json:"detection_sample_bytes,omitempty" toml:"detection_sample_bytes,omitempty" yaml:"detection_sample_bytes,omitempty"`

	MimeTypes     map[string]string `json:"mime_types,omitempty" toml:"mime_types,omitempty" yaml:"mime_types,omitempty"`
	MimeTypesPath *string           `json:"mime_types_path,omitempty" toml:"mime_types_path,omitempty" yaml:"mime_types_path,omitempty"`

	// AllowOverrideBuiltin lets custom MIME mappings replace the built-in
	// overrides (.json, .js, .csv, .vbs, .djvu).
	AllowOverrideBuiltin bool `json:"allow_override_builtin,omitempty" toml:"allow_override_builtin,omitempty" yaml:"allow_override_builtin,omitempty"`

	// TemplateDir optionally holds listing.html and error.html replacing the embedded pages.
	TemplateDir *string `json:"template_dir,omitempty" toml:"template_dir,omitempty" yaml:"template_dir,omitempty"`
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	LogLevel  LogLevel         `json:"log_level,omitempty" toml:"log_level,omitempty" yaml:"log_level,omitempty"`
	AccessLog *AccessLogConfig `json:"access_log,omitempty" toml:"access_log,omitempty" yaml:"access_log,omitempty"`
	ErrorLog  *ErrorLogConfig  `json:"error_log,omitempty" toml:"error_log,omitempty" yaml:"error_log,omitempty"`
}

// AccessLogConfig configures access logging.
type AccessLogConfig struct {
	Enabled        *bool    `json:"enabled,omitempty" toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Target         *string  `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
	Format         string   `json:"format,omitempty" toml:"format,omitempty" yaml:"format,omitempty"`
	TrustedProxies []string `json:"trusted_proxies,omitempty" toml:"trusted_proxies,omitempty" yaml:"trusted_proxies,omitempty"`
	RealIPHeader   *string  `json:"real_ip_header,omitempty" toml:"real_ip_header,omitempty" yaml:"real_ip_header,omitempty"`
}

// ErrorLogConfig configures error logging.
type ErrorLogConfig struct {
	Target *string `json:"target,omitempty" toml:"target,omitempty" yaml:"target,omitempty"`
	Format string  `json:"format,omitempty" toml:"format,omitempty" yaml:"format,omitempty"`
}

// ConfigError describes a configuration problem tied to a file.
type ConfigError struct {
	FilePath string
	Message  string
	Err      error
}

func (e *ConfigError) Error() string {
	var sb strings.Builder
	if e.FilePath != "" {
		sb.WriteString(e.FilePath)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsFilePath reports whether a log target names a file rather than a standard stream.
func IsFilePath(target string) bool {
	return target != "stdout" && target != "stderr"
}

// LoadConfig reads, parses, defaults and validates the configuration at path.
// The format is chosen by extension (.json, .toml, .yaml, .yml); other
// extensions are tried as JSON and then TOML.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("configuration file path cannot be empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, &ConfigError{FilePath: path, Message: "failed to resolve configuration file path", Err: err}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, &ConfigError{FilePath: absPath, Message: "failed to read configuration file", Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ConfigError{FilePath: absPath, Message: "configuration file is empty"}
	}

	cfg, err := parse(data, strings.ToLower(filepath.Ext(absPath)))
	if err != nil {
		return nil, &ConfigError{FilePath: absPath, Message: "invalid configuration", Err: err}
	}
	cfg.originalFilePath = absPath

	ApplyDefaults(cfg, filepath.Dir(absPath))
	if err := Validate(cfg); err != nil {
		return nil, &ConfigError{FilePath: absPath, Message: "configuration validation failed", Err: err}
	}
	return cfg, nil
}

func parse(data []byte, ext string) (*Config, error) {
	cfg := &Config{}
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		jsonErr := json.Unmarshal(data, cfg)
		if jsonErr == nil {
			return cfg, nil
		}
		cfg = &Config{}
		_, tomlErr := toml.Decode(string(data), cfg)
		if tomlErr == nil {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to auto-detect and parse config (JSON error: %v; TOML error: %v)", jsonErr, tomlErr)
	}
	return cfg, nil
}

// NewDefaultConfig builds a configuration serving documentRoot with all defaults applied.
// It does not validate; callers run Validate.
func NewDefaultConfig(documentRoot string) *Config {
	cfg := &Config{DirServer: &DirServerConfig{DocumentRoot: documentRoot}}
	ApplyDefaults(cfg, "")
	return cfg
}

// ApplyDefaults fills unset fields. Relative paths are resolved against baseDir
// when it is non-empty, otherwise against the working directory.
func ApplyDefaults(cfg *Config, baseDir string) {
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.Address == nil {
		cfg.Server.Address = strPtr(defaultServerAddress)
	}
	if cfg.Server.GracefulShutdownTimeout == nil {
		cfg.Server.GracefulShutdownTimeout = &Duration{defaultGracefulShutdownTimeout}
	}
	if cfg.Server.ReadHeaderTimeout == nil {
		cfg.Server.ReadHeaderTimeout = &Duration{defaultReadHeaderTimeout}
	}
	cfg.Server.TLSCertFile = resolveOptionalPath(cfg.Server.TLSCertFile, baseDir)
	cfg.Server.TLSKeyFile = resolveOptionalPath(cfg.Server.TLSKeyFile, baseDir)

	if cfg.DirServer == nil {
		cfg.DirServer = &DirServerConfig{}
	}
	ds := cfg.DirServer
	if ds.DocumentRoot == "" {
		ds.DocumentRoot = baseDir
		if ds.DocumentRoot == "" {
			ds.DocumentRoot = "."
		}
	}
	ds.DocumentRoot = resolvePath(ds.DocumentRoot, baseDir)
	if ds.DefaultCharset == "" {
		ds.DefaultCharset = defaultCharset
	}
	if ds.DetectionSampleBytes == 0 {
		ds.DetectionSampleBytes = defaultDetectionSampleBytes
	}
	ds.MimeTypesPath = resolveOptionalPath(ds.MimeTypesPath, baseDir)
	ds.TemplateDir = resolveOptionalPath(ds.TemplateDir, baseDir)

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	lc := cfg.Logging
	if lc.LogLevel == "" {
		lc.LogLevel = defaultLogLevel
	}
	if lc.AccessLog == nil {
		lc.AccessLog = &AccessLogConfig{}
	}
	if lc.AccessLog.Enabled == nil {
		lc.AccessLog.Enabled = boolPtr(defaultAccessLogEnabled)
	}
	if lc.AccessLog.Target == nil {
		lc.AccessLog.Target = strPtr(defaultAccessLogTarget)
	} else if IsFilePath(*lc.AccessLog.Target) {
		lc.AccessLog.Target = strPtr(resolvePath(*lc.AccessLog.Target, baseDir))
	}
	if lc.AccessLog.Format == "" {
		lc.AccessLog.Format = defaultAccessLogFormat
	}
	if lc.AccessLog.TrustedProxies == nil {
		lc.AccessLog.TrustedProxies = []string{}
	}
	if lc.AccessLog.RealIPHeader == nil {
		lc.AccessLog.RealIPHeader = strPtr(defaultAccessLogRealIPHeader)
	}
	if lc.ErrorLog == nil {
		lc.ErrorLog = &ErrorLogConfig{}
	}
	if lc.ErrorLog.Target == nil {
		lc.ErrorLog.Target = strPtr(defaultErrorLogTarget)
	} else if IsFilePath(*lc.ErrorLog.Target) {
		lc.ErrorLog.Target = strPtr(resolvePath(*lc.ErrorLog.Target, baseDir))
	}
	if lc.ErrorLog.Format == "" {
		lc.ErrorLog.Format = defaultErrorLogFormat
	}
}

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("configuration cannot be nil")
	}
	var errs []error

	if cfg.Server == nil || cfg.Server.Address == nil || *cfg.Server.Address == "" {
		errs = append(errs, errors.New("server.address must not be empty"))
	}
	if cfg.Server != nil {
		hasCert := cfg.Server.TLSCertFile != nil && *cfg.Server.TLSCertFile != ""
		hasKey := cfg.Server.TLSKeyFile != nil && *cfg.Server.TLSKeyFile != ""
		if hasCert != hasKey {
			errs = append(errs, errors.New("server.tls_cert_file and server.tls_key_file must be set together"))
		}
	}

	if ds := cfg.DirServer; ds == nil {
		errs = append(errs, errors.New("dir_server section is missing"))
	} else {
		errs = append(errs, validateDirServer(ds)...)
	}

	if lc := cfg.Logging; lc == nil {
		errs = append(errs, errors.New("logging section is missing"))
	} else {
		errs = append(errs, validateLogging(lc)...)
	}

	return errors.Join(errs...)
}

func validateDirServer(ds *DirServerConfig) []error {
	var errs []error
	if !filepath.IsAbs(ds.DocumentRoot) {
		errs = append(errs, fmt.Errorf("dir_server.document_root must be absolute, got %q", ds.DocumentRoot))
	} else if fi, err := os.Stat(ds.DocumentRoot); err != nil {
		errs = append(errs, fmt.Errorf("dir_server.document_root %q is not accessible: %w", ds.DocumentRoot, err))
	} else if !fi.IsDir() {
		errs = append(errs, fmt.Errorf("dir_server.document_root %q is not a directory", ds.DocumentRoot))
	}
	if strings.TrimSpace(ds.DefaultCharset) == "" {
		errs = append(errs, errors.New("dir_server.default_charset must not be empty"))
	}
	if ds.DetectionSampleBytes < 0 {
		errs = append(errs, fmt.Errorf("dir_server.detection_sample_bytes must be positive, got %d", ds.DetectionSampleBytes))
	}
	for ext, mimeType := range ds.MimeTypes {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("dir_server.mime_types: extension %q must start with '.'", ext))
		}
		if mimeType == "" {
			errs = append(errs, fmt.Errorf("dir_server.mime_types: empty MIME type for extension %q", ext))
		}
	}
	return errs
}

func validateLogging(lc *LoggingConfig) []error {
	var errs []error
	switch lc.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		errs = append(errs, fmt.Errorf("logging.log_level %q is not one of DEBUG, INFO, WARNING, ERROR", lc.LogLevel))
	}
	if al := lc.AccessLog; al != nil {
		if al.Target != nil {
			if err := validateTarget("logging.access_log.target", *al.Target); err != nil {
				errs = append(errs, err)
			}
		}
		if al.Format != FormatJSON && al.Format != FormatText {
			errs = append(errs, fmt.Errorf("logging.access_log.format %q must be %q or %q", al.Format, FormatJSON, FormatText))
		}
	}
	if el := lc.ErrorLog; el != nil {
		if el.Target != nil {
			if err := validateTarget("logging.error_log.target", *el.Target); err != nil {
				errs = append(errs, err)
			}
		}
		switch el.Format {
		case FormatJSON, FormatConsole, FormatAuto:
		default:
			errs = append(errs, fmt.Errorf("logging.error_log.format %q must be one of json, console, auto", el.Format))
		}
	}
	return errs
}

func validateTarget(field, target string) error {
	if target == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if IsFilePath(target) && !filepath.IsAbs(target) {
		return fmt.Errorf("%s must be stdout, stderr or an absolute path, got %q", field, target)
	}
	return nil
}

func resolvePath(p, baseDir string) string {
	if !filepath.IsAbs(p) {
		if baseDir != "" {
			p = filepath.Join(baseDir, p)
		} else if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
	}
	return filepath.Clean(p)
}

func resolveOptionalPath(p *string, baseDir string) *string {
	if p == nil || *p == "" {
		return p
	}
	return strPtr(resolvePath(*p, baseDir))
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }
