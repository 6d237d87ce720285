// Package config loads the engine configuration from YAML.
package config

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/quillsign/pdfsign/keys"
	"github.com/quillsign/pdfsign/pdf/reader"
)

var (
	// ErrConfiguration is the base error every config failure wraps.
	ErrConfiguration = errors.New("configuration error")
)

// ConfigError carries the offending field alongside the message.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in %q: %s", e.Field, e.Message)
	}
	return "config error: " + e.Message
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// NewConfigError builds a field scoped configuration error.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// StreamingConfig tunes the bounded memory reader.
type StreamingConfig struct {
	// ChunkSize is the read granularity in bytes.
	ChunkSize int `yaml:"chunk-size"`
	// StreamingThreshold is the file size above which chunked hashing
	// replaces the full buffer path.
	StreamingThreshold int64 `yaml:"streaming-threshold"`
	// MaxBufferSize caps any single allocation.
	MaxBufferSize int64 `yaml:"max-buffer-size"`
	// TrailerScanWindow bounds the startxref tail scan.
	TrailerScanWindow int `yaml:"trailer-scan-window"`
}

// SetDefaults fills zero fields with the reader defaults.
func (c *StreamingConfig) SetDefaults() {
	def := reader.DefaultStreamingConfig()
	if c.ChunkSize == 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.StreamingThreshold == 0 {
		c.StreamingThreshold = def.StreamingThreshold
	}
	if c.MaxBufferSize == 0 {
		c.MaxBufferSize = def.MaxBufferSize
	}
	if c.TrailerScanWindow == 0 {
		c.TrailerScanWindow = def.TrailerScanWindow
	}
}

// Reader converts to the reader package's configuration.
func (c *StreamingConfig) Reader() reader.StreamingConfig {
	return reader.StreamingConfig{
		ChunkSize:          c.ChunkSize,
		StreamingThreshold: c.StreamingThreshold,
		MaxBufferSize:      c.MaxBufferSize,
		TrailerScanWindow:  c.TrailerScanWindow,
	}
}

// Validate rejects inconsistent streaming settings.
func (c *StreamingConfig) Validate() error {
	if c.ChunkSize < 0 {
		return NewConfigError("streaming.chunk-size", "must not be negative")
	}
	if c.MaxBufferSize > 0 && int64(c.ChunkSize) > c.MaxBufferSize {
		return NewConfigError("streaming.chunk-size", "exceeds max-buffer-size")
	}
	return nil
}

// PKCS12Config points at a PKCS#12 credential bundle.
type PKCS12Config struct {
	File       string `yaml:"file"`
	Passphrase string `yaml:"passphrase"`
}

// PEMConfig points at PEM or DER certificate and key files.
type PEMConfig struct {
	CertFile string `yaml:"cert-file"`
	KeyFile  string `yaml:"key-file"`
	// ChainFiles hold intermediate certificates, leaf first order not
	// required.
	ChainFiles []string `yaml:"chain-files"`
}

// SigningConfig selects credentials and signing parameters.
type SigningConfig struct {
	PKCS12 *PKCS12Config `yaml:"pkcs12"`
	PEM    *PEMConfig    `yaml:"pem"`
	// HashAlgorithm is sha256, sha384 or sha512. Empty selects the
	// key's default.
	HashAlgorithm string `yaml:"hash-algorithm"`
	// FieldName targets a signature field by name.
	FieldName string `yaml:"field-name"`
	Reason    string `yaml:"reason"`
	Location  string `yaml:"location"`
	Contact   string `yaml:"contact"`
	// ContentsSize reserves the placeholder in bytes. Zero selects the
	// writer default.
	ContentsSize int `yaml:"contents-size"`
}

// Validate requires exactly one credential source when signing is
// configured.
func (c *SigningConfig) Validate() error {
	if c.PKCS12 != nil && c.PEM != nil {
		return NewConfigError("signing", "pkcs12 and pem are mutually exclusive")
	}
	if c.PKCS12 != nil && c.PKCS12.File == "" {
		return NewConfigError("signing.pkcs12.file", "required field is missing")
	}
	if c.PEM != nil {
		if c.PEM.CertFile == "" {
			return NewConfigError("signing.pem.cert-file", "required field is missing")
		}
		if c.PEM.KeyFile == "" {
			return NewConfigError("signing.pem.key-file", "required field is missing")
		}
	}
	if _, err := c.Hash(); err != nil {
		return NewConfigError("signing.hash-algorithm", err.Error())
	}
	return nil
}

// Hash resolves the configured digest algorithm.
func (c *SigningConfig) Hash() (crypto.Hash, error) {
	switch strings.ToLower(c.HashAlgorithm) {
	case "":
		return 0, nil
	case "sha256", "sha-256":
		return crypto.SHA256, nil
	case "sha384", "sha-384":
		return crypto.SHA384, nil
	case "sha512", "sha-512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("unknown hash algorithm %q", c.HashAlgorithm)
	}
}

// Credentials loads the configured signing credentials.
func (c *SigningConfig) Credentials() (*keys.Credentials, error) {
	switch {
	case c.PKCS12 != nil:
		return keys.LoadPKCS12FromFile(c.PKCS12.File, c.PKCS12.Passphrase)
	case c.PEM != nil:
		certs, err := keys.LoadCertificatesFromFile(c.PEM.CertFile)
		if err != nil {
			return nil, err
		}
		signer, err := keys.LoadPrivateKeyFromFile(c.PEM.KeyFile)
		if err != nil {
			return nil, err
		}
		creds := &keys.Credentials{Certificate: certs[0], Signer: signer, Chain: certs[1:]}
		for _, path := range c.PEM.ChainFiles {
			extra, err := keys.LoadCertificatesFromFile(path)
			if err != nil {
				return nil, err
			}
			creds.Chain = append(creds.Chain, extra...)
		}
		return creds, nil
	default:
		return nil, NewConfigError("signing", "no credential source configured")
	}
}

// ValidationConfig sets the trust policy.
type ValidationConfig struct {
	// TrustAnchorFiles hold PEM or DER root certificates.
	TrustAnchorFiles []string `yaml:"trust-anchors"`
	// AllowSelfSignedRoot accepts a self-signed signer as its own
	// anchor.
	AllowSelfSignedRoot *bool `yaml:"allow-self-signed-root"`
	// TrustSignatureTime accepts the signatory's claimed time.
	TrustSignatureTime bool `yaml:"trust-signature-time"`
	// OCSPResponseFiles hold DER responses used for revocation.
	OCSPResponseFiles []string `yaml:"ocsp-responses"`
}

// SetDefaults applies the default trust policy.
func (c *ValidationConfig) SetDefaults() {
	if c.AllowSelfSignedRoot == nil {
		v := true
		c.AllowSelfSignedRoot = &v
	}
}

// TrustAnchors loads the configured anchor certificates.
func (c *ValidationConfig) TrustAnchors() ([]*x509.Certificate, error) {
	var anchors []*x509.Certificate
	for _, path := range c.TrustAnchorFiles {
		certs, err := keys.LoadCertificatesFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("trust anchor %s: %w", path, err)
		}
		anchors = append(anchors, certs...)
	}
	return anchors, nil
}

// OCSPResponses reads the configured revocation material.
func (c *ValidationConfig) OCSPResponses() ([][]byte, error) {
	var responses [][]byte
	for _, path := range c.OCSPResponseFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("ocsp response %s: %w", path, err)
		}
		responses = append(responses, data)
	}
	return responses, nil
}

// TimestampConfig points at an RFC 3161 authority.
type TimestampConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// SkipNonce omits the request nonce for authorities that do not
	// echo it.
	SkipNonce bool `yaml:"skip-nonce"`
}

// LoggingConfig controls the slog output.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// SetDefaults applies info level text logging.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// Validate rejects unknown levels and formats.
func (c *LoggingConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
	default:
		return NewConfigError("logging.level", fmt.Sprintf("unknown level %q", c.Level))
	}
	switch strings.ToLower(c.Format) {
	case "text", "json":
	default:
		return NewConfigError("logging.format", fmt.Sprintf("unknown format %q", c.Format))
	}
	return nil
}

// EngineConfig is the top level configuration document.
type EngineConfig struct {
	Streaming  StreamingConfig  `yaml:"streaming"`
	Signing    SigningConfig    `yaml:"signing"`
	Validation ValidationConfig `yaml:"validation"`
	Timestamp  TimestampConfig  `yaml:"timestamp"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SetDefaults fills every section's defaults.
func (c *EngineConfig) SetDefaults() {
	c.Streaming.SetDefaults()
	c.Validation.SetDefaults()
	c.Logging.SetDefaults()
}

// Validate checks every section.
func (c *EngineConfig) Validate() error {
	if err := c.Streaming.Validate(); err != nil {
		return err
	}
	if err := c.Signing.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}

// Parse decodes YAML and applies defaults and validation.
func Parse(data []byte) (*EngineConfig, error) {
	cfg := &EngineConfig{}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return Parse(data)
}

// Default returns a configuration with every default applied.
func Default() *EngineConfig {
	cfg := &EngineConfig{}
	cfg.SetDefaults()
	return cfg
}
