package cli

import (
	"context"
	"crypto"
	"flag"
	"fmt"
	"os"

	"github.com/quillsign/pdfsign/config"
	"github.com/quillsign/pdfsign/engine"
	"github.com/quillsign/pdfsign/keys"
	"github.com/quillsign/pdfsign/sign/fields"
)

// SignCLIOptions holds the flags of the sign command.
type SignCLIOptions struct {
	ConfigFile  string
	FieldName   string
	Reason      string
	Location    string
	Contact     string
	SignerName  string
	TSA         string
	Hash        string
	PKCS12File  string
	Passphrase  string
	Visible     bool
	NoTimestamp bool
}

// SignCommand implements the 'sign' command.
func SignCommand(args []string) {
	signFlags := flag.NewFlagSet("sign", flag.ExitOnError)

	var opts SignCLIOptions

	signFlags.StringVar(&opts.ConfigFile, "config", "", "YAML configuration file")
	signFlags.StringVar(&opts.FieldName, "field", "", "Name of the signature field (generated when empty)")
	signFlags.StringVar(&opts.Reason, "reason", "", "Reason for signing")
	signFlags.StringVar(&opts.Location, "location", "", "Location of the signatory")
	signFlags.StringVar(&opts.Contact, "contact", "", "Contact information for the signatory")
	signFlags.StringVar(&opts.SignerName, "name", "", "Name of the signatory (defaults to the certificate common name)")
	signFlags.StringVar(&opts.TSA, "tsa", "", "URL of an RFC 3161 Time-Stamp Authority")
	signFlags.StringVar(&opts.Hash, "hash", "", "Digest algorithm: sha256, sha384, sha512")
	signFlags.StringVar(&opts.PKCS12File, "pkcs12", "", "PKCS#12 bundle holding certificate and key")
	signFlags.StringVar(&opts.Passphrase, "passphrase", "", "Passphrase for the PKCS#12 bundle")
	signFlags.BoolVar(&opts.Visible, "visible", false, "Place a visible signature widget on the first page")
	signFlags.BoolVar(&opts.NoTimestamp, "no-timestamp", false, "Skip timestamping even when configured")

	signFlags.Usage = func() {
		fmt.Printf("Usage: %s sign [options] <input.pdf> <output.pdf> [certificate.pem private_key.pem [chain.pem]]\n\n", os.Args[0])
		fmt.Println("Sign a PDF file with a digital signature.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  input.pdf        Input PDF file to sign")
		fmt.Println("  output.pdf       Output file for the signed PDF")
		fmt.Println("  certificate.pem  Signing certificate (PEM or DER), unless -pkcs12 or -config supplies one")
		fmt.Println("  private_key.pem  Private key for signing (PEM or DER)")
		fmt.Println("  chain.pem        Optional intermediate certificates (PEM)")
		fmt.Println("")
		fmt.Println("Options:")
		signFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s sign input.pdf output.pdf cert.pem key.pem\n", os.Args[0])
		fmt.Printf("  %s sign -pkcs12 bundle.p12 -passphrase secret input.pdf output.pdf\n", os.Args[0])
		fmt.Printf("  %s sign -config pdfsign.yaml -reason \"Approved\" input.pdf output.pdf\n", os.Args[0])
	}

	if err := signFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(signFlags.Args()) < 2 {
		signFlags.Usage()
		osExit(1)
		return
	}

	if err := signPDF(signFlags.Args(), &opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
		return
	}

	fmt.Printf("Successfully signed PDF: %s\n", signFlags.Arg(1))
}

func signPDF(args []string, opts *SignCLIOptions) error {
	cfg := config.Default()
	if opts.ConfigFile != "" {
		loaded, err := config.Load(opts.ConfigFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	creds, err := loadCredentials(args, opts, cfg)
	if err != nil {
		return err
	}

	input, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	e, err := cfg.Engine()
	if err != nil {
		return err
	}
	if opts.NoTimestamp {
		e.Timestamper = nil
	}

	doc, err := engine.ParseDocument(input)
	if err != nil {
		return fmt.Errorf("failed to parse PDF: %w", err)
	}

	signOpts := engine.SignOptions{
		FieldName:  opts.FieldName,
		Reason:     firstNonEmpty(opts.Reason, cfg.Signing.Reason),
		Location:   firstNonEmpty(opts.Location, cfg.Signing.Location),
		Contact:    firstNonEmpty(opts.Contact, cfg.Signing.Contact),
		SignerName: opts.SignerName,
	}
	if signOpts.FieldName == "" {
		signOpts.FieldName = cfg.Signing.FieldName
	}
	if opts.Visible {
		signOpts.Rect = &fields.Rect{X: 50, Y: 50, Width: 200, Height: 60}
	}
	if !opts.NoTimestamp && opts.TSA != "" {
		signOpts.TimestampURL = opts.TSA
	}
	signOpts.Hash, err = resolveHash(opts.Hash, cfg)
	if err != nil {
		return err
	}

	signed, err := e.SignDocument(context.Background(), doc, creds, signOpts)
	if err != nil {
		return fmt.Errorf("failed to sign PDF: %w", err)
	}

	if err := os.WriteFile(args[1], signed.Raw, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// loadCredentials resolves the signing credentials from flags,
// positional arguments or the configuration file, in that order.
func loadCredentials(args []string, opts *SignCLIOptions, cfg *config.EngineConfig) (*keys.Credentials, error) {
	if opts.PKCS12File != "" {
		return keys.LoadPKCS12FromFile(opts.PKCS12File, opts.Passphrase)
	}
	if len(args) >= 4 {
		certs, err := keys.LoadCertificatesFromFile(args[2])
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		signer, err := keys.LoadPrivateKeyFromFile(args[3])
		if err != nil {
			return nil, fmt.Errorf("failed to load private key: %w", err)
		}
		creds := &keys.Credentials{Certificate: certs[0], Signer: signer, Chain: certs[1:]}
		if len(args) >= 5 {
			chain, err := keys.LoadCertificatesFromFile(args[4])
			if err != nil {
				return nil, fmt.Errorf("failed to load certificate chain: %w", err)
			}
			creds.Chain = append(creds.Chain, chain...)
		}
		return creds, nil
	}
	if cfg.Signing.PKCS12 != nil || cfg.Signing.PEM != nil {
		return cfg.Signing.Credentials()
	}
	return nil, fmt.Errorf("no signing credentials: pass certificate and key files, -pkcs12, or a -config with a signing section")
}

func resolveHash(flagValue string, cfg *config.EngineConfig) (crypto.Hash, error) {
	if flagValue != "" {
		probe := config.SigningConfig{HashAlgorithm: flagValue}
		return probe.Hash()
	}
	return cfg.Signing.Hash()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
