package config

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/quillsign/pdfsign/keys"
	"github.com/quillsign/pdfsign/pdf/reader"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("logging:\n  level: info\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, want := cfg.Streaming.Reader(), reader.DefaultStreamingConfig(); got != want {
		t.Errorf("streaming defaults = %+v, want %+v", got, want)
	}
	if cfg.Validation.AllowSelfSignedRoot == nil || !*cfg.Validation.AllowSelfSignedRoot {
		t.Error("allow-self-signed-root should default to true")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("logging format = %q, want text", cfg.Logging.Format)
	}
}

func TestParseFullDocument(t *testing.T) {
	doc := `
streaming:
  chunk-size: 4096
  trailer-scan-window: 1024
signing:
  pem:
    cert-file: testdata/cert.pem
    key-file: testdata/key.pem
  hash-algorithm: sha384
  reason: approved
  contents-size: 16384
validation:
  allow-self-signed-root: false
  trust-signature-time: true
timestamp:
  url: http://tsa.example.com
  skip-nonce: true
logging:
  level: debug
  format: json
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Streaming.ChunkSize != 4096 {
		t.Errorf("chunk-size = %d, want 4096", cfg.Streaming.ChunkSize)
	}
	hash, err := cfg.Signing.Hash()
	if err != nil || hash != crypto.SHA384 {
		t.Errorf("hash = %v (%v), want SHA384", hash, err)
	}
	if *cfg.Validation.AllowSelfSignedRoot {
		t.Error("allow-self-signed-root should be false")
	}
	ts := cfg.Timestamp.Timestamper()
	if ts == nil || !ts.SkipNonce {
		t.Fatalf("timestamper = %+v, want SkipNonce client", ts)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	if _, err := Parse([]byte("signinng:\n  reason: x\n")); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Parse misspelled key: %v, want ErrConfiguration", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"both credential sources", "signing:\n  pkcs12:\n    file: a.p12\n  pem:\n    cert-file: c.pem\n    key-file: k.pem\n"},
		{"pkcs12 without file", "signing:\n  pkcs12:\n    passphrase: secret\n"},
		{"pem without key", "signing:\n  pem:\n    cert-file: c.pem\n"},
		{"unknown hash", "signing:\n  hash-algorithm: md5\n"},
		{"unknown log level", "logging:\n  level: loud\n"},
		{"chunk above buffer cap", "streaming:\n  chunk-size: 2048\n  max-buffer-size: 1024\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("Parse: %v, want ErrConfiguration", err)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error %v is not a *ConfigError", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Load: %v, want ErrConfiguration", err)
	}
}

func TestCredentialsFromPEMFiles(t *testing.T) {
	dir := t.TempDir()
	signer, err := keys.Generate(keys.ECDSAP256)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := keys.GenerateSelfSigned(signer, keys.SelfSignedOptions{CommonName: "Config Test"})
	if err != nil {
		t.Fatal(err)
	}
	certPath := filepath.Join(dir, "cert.pem")
	writePEM(t, certPath, "CERTIFICATE", cert.Raw)
	keyDER, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(dir, "key.pem")
	writePEM(t, keyPath, "PRIVATE KEY", keyDER)

	cfg := SigningConfig{PEM: &PEMConfig{CertFile: certPath, KeyFile: keyPath}}
	creds, err := cfg.Credentials()
	if err != nil {
		t.Fatalf("Credentials: %v", err)
	}
	if creds.Certificate.Subject.CommonName != "Config Test" {
		t.Errorf("common name = %q", creds.Certificate.Subject.CommonName)
	}
	if err := creds.CheckKeyMatch(); err != nil {
		t.Errorf("CheckKeyMatch: %v", err)
	}
}

func TestTrustAnchorsFromFiles(t *testing.T) {
	dir := t.TempDir()
	signer, err := keys.Generate(keys.ECDSAP256)
	if err != nil {
		t.Fatal(err)
	}
	root, err := keys.GenerateSelfSigned(signer, keys.SelfSignedOptions{CommonName: "Config Root", IsCA: true})
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "roots.pem")
	writePEM(t, path, "CERTIFICATE", root.Raw)

	cfg := ValidationConfig{TrustAnchorFiles: []string{path}}
	anchors, err := cfg.TrustAnchors()
	if err != nil {
		t.Fatalf("TrustAnchors: %v", err)
	}
	if len(anchors) != 1 || anchors[0].Subject.CommonName != "Config Root" {
		t.Errorf("anchors = %v", anchors)
	}
}

func TestEngineAssembly(t *testing.T) {
	cfg, err := Parse([]byte("validation:\n  allow-self-signed-root: false\ntimestamp:\n  url: http://tsa.example.com\n"))
	if err != nil {
		t.Fatal(err)
	}
	e, err := cfg.Engine()
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	if e.Validation == nil || e.Validation.AllowSelfSignedRoot {
		t.Error("validation settings not applied")
	}
	if e.Timestamper == nil {
		t.Error("timestamper not applied")
	}
	if e.Logger == nil {
		t.Error("logger not applied")
	}
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
}
