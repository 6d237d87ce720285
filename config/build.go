package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/quillsign/pdfsign/engine"
	"github.com/quillsign/pdfsign/sign/timestamps"
	"github.com/quillsign/pdfsign/sign/validation"
)

// Logger builds an slog logger from the logging section.
func (c *LoggingConfig) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(c.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Settings builds validation settings from the validation section.
func (c *ValidationConfig) Settings() (*validation.Settings, error) {
	anchors, err := c.TrustAnchors()
	if err != nil {
		return nil, err
	}
	responses, err := c.OCSPResponses()
	if err != nil {
		return nil, err
	}
	settings := &validation.Settings{
		TrustAnchors:       anchors,
		TrustSignatureTime: c.TrustSignatureTime,
		OCSPResponses:      responses,
	}
	if c.AllowSelfSignedRoot != nil {
		settings.AllowSelfSignedRoot = *c.AllowSelfSignedRoot
	}
	return settings, nil
}

// Timestamper builds an RFC 3161 client, or nil when no authority is
// configured.
func (c *TimestampConfig) Timestamper() *timestamps.Client {
	if c.URL == "" {
		return nil
	}
	client := timestamps.NewClient(c.URL)
	client.Username = c.Username
	client.Password = c.Password
	client.SkipNonce = c.SkipNonce
	return client
}

// Engine assembles a signing engine from the full configuration.
func (c *EngineConfig) Engine() (*engine.Engine, error) {
	settings, err := c.Validation.Settings()
	if err != nil {
		return nil, err
	}
	e := engine.New()
	e.Validation = settings
	e.Logger = c.Logging.Logger()
	e.ContentsSize = c.Signing.ContentsSize
	if ts := c.Timestamp.Timestamper(); ts != nil {
		e.Timestamper = ts
	}
	return e, nil
}
