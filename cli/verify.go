package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/quillsign/pdfsign/engine"
	"github.com/quillsign/pdfsign/keys"
	"github.com/quillsign/pdfsign/sign/validation"
)

// VerifyCLIOptions holds the flags of the verify command.
type VerifyCLIOptions struct {
	TrustRootsFile     string
	TrustSignatureTime bool
	StrictTrust        bool
	JSON               bool
	Verbose            bool
}

// VerifyCommand implements the 'verify' command.
func VerifyCommand(args []string) {
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)

	var opts VerifyCLIOptions

	verifyFlags.StringVar(&opts.TrustRootsFile, "trust-roots", "", "File containing trusted root certificates (PEM format)")
	verifyFlags.BoolVar(&opts.TrustSignatureTime, "trust-signature-time", false, "Trust the signature time if no timestamp is present (insecure)")
	verifyFlags.BoolVar(&opts.StrictTrust, "strict", false, "Reject self-signed signer certificates without a configured root")
	verifyFlags.BoolVar(&opts.JSON, "json", false, "Output results in JSON format")
	verifyFlags.BoolVar(&opts.Verbose, "verbose", false, "Show detailed validation information")

	verifyFlags.Usage = func() {
		fmt.Printf("Usage: %s verify [options] <input.pdf>\n\n", os.Args[0])
		fmt.Println("Verify the digital signature(s) of a PDF file.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  input.pdf  PDF file to verify")
		fmt.Println("")
		fmt.Println("Options:")
		verifyFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s verify document.pdf\n", os.Args[0])
		fmt.Printf("  %s verify -json document.pdf\n", os.Args[0])
		fmt.Printf("  %s verify -strict -trust-roots trusted-cas.pem document.pdf\n", os.Args[0])
	}

	if err := verifyFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(verifyFlags.Args()) < 1 {
		verifyFlags.Usage()
		osExit(1)
		return
	}

	output, err := verifyPDF(verifyFlags.Arg(0), &opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
		return
	}

	if opts.JSON {
		outputJSON(output)
	} else {
		outputText(output, opts.Verbose)
	}

	for _, result := range output.Signatures {
		if result.Status == "INVALID" {
			osExit(1)
		}
	}
}

// VerifyOutput is the complete verification report.
type VerifyOutput struct {
	File       string          `json:"file"`
	Signatures []*VerifyResult `json:"signatures"`
}

// VerifyResult is the JSON view of one signature's validation.
type VerifyResult struct {
	SignatureIndex int    `json:"signature_index"`
	FieldName      string `json:"field_name,omitempty"`
	Status         string `json:"status"`
	IntegrityValid bool   `json:"integrity_valid"`
	CoversDocument bool   `json:"covers_whole_document"`
	ChainValid     bool   `json:"chain_valid"`
	TrustedRoot    bool   `json:"trusted_root"`
	NotExpired     bool   `json:"not_expired"`
	NotRevoked     bool   `json:"not_revoked"`
	SignerName     string `json:"signer_name,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Location       string `json:"location,omitempty"`
	SubFilter      string `json:"sub_filter,omitempty"`
	SigningTime    string `json:"signing_time,omitempty"`
	TimestampTime  string `json:"timestamp_time,omitempty"`
	TimeSource     string `json:"time_source,omitempty"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func verifyPDF(inputPath string, opts *VerifyCLIOptions) (*VerifyOutput, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}

	settings := validation.DefaultSettings()
	settings.TrustSignatureTime = opts.TrustSignatureTime
	if opts.StrictTrust {
		settings.AllowSelfSignedRoot = false
	}
	if opts.TrustRootsFile != "" {
		anchors, err := keys.LoadCertificatesFromFile(opts.TrustRootsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load trust roots: %w", err)
		}
		settings.TrustAnchors = anchors
	}

	e := engine.New()
	e.Validation = settings

	results, err := e.ValidateSignatures(context.Background(), data)
	if err != nil {
		return nil, err
	}

	output := &VerifyOutput{File: inputPath}
	for i, result := range results {
		output.Signatures = append(output.Signatures, toVerifyResult(i, result))
	}
	return output, nil
}

func toVerifyResult(index int, r *validation.Result) *VerifyResult {
	out := &VerifyResult{
		SignatureIndex: index,
		FieldName:      r.FieldName,
		IntegrityValid: r.IntegrityValid,
		CoversDocument: r.CoversWholeDocument,
		ChainValid:     r.Chain.ChainValid,
		TrustedRoot:    r.Chain.TrustedRoot,
		NotExpired:     r.Chain.NotExpired,
		NotRevoked:     r.Chain.NotRevoked,
		SignerName:     r.SignerName,
		Reason:         r.Reason,
		Location:       r.Location,
		SubFilter:      r.SubFilter,
		TimeSource:     string(r.TimeSource),
		Errors:         r.Errors,
		Warnings:       r.Warnings,
	}
	if r.Valid() {
		out.Status = "VALID"
	} else {
		out.Status = "INVALID"
	}
	if !r.SigningTime.IsZero() {
		out.SigningTime = r.SigningTime.Format(time.RFC3339)
	}
	if r.HasTimestamp && !r.TimestampTime.IsZero() {
		out.TimestampTime = r.TimestampTime.Format(time.RFC3339)
	}
	return out
}

func outputJSON(output *VerifyOutput) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		osExit(1)
	}
}

func outputText(output *VerifyOutput, verbose bool) {
	if len(output.Signatures) == 0 {
		fmt.Println("No signatures found.")
		return
	}
	fmt.Printf("Found %d signature(s) in %s\n\n", len(output.Signatures), output.File)
	for _, sig := range output.Signatures {
		fmt.Printf("Signature %d (%s): %s\n", sig.SignatureIndex+1, sig.FieldName, sig.Status)
		if sig.SignerName != "" {
			fmt.Printf("  Signer:     %s\n", sig.SignerName)
		}
		if sig.Reason != "" {
			fmt.Printf("  Reason:     %s\n", sig.Reason)
		}
		if sig.SigningTime != "" {
			fmt.Printf("  Signed at:  %s (%s)\n", sig.SigningTime, sig.TimeSource)
		}
		if sig.TimestampTime != "" {
			fmt.Printf("  Timestamp:  %s\n", sig.TimestampTime)
		}
		if verbose {
			fmt.Printf("  Integrity:  %v (covers whole document: %v)\n", sig.IntegrityValid, sig.CoversDocument)
			fmt.Printf("  Chain:      valid=%v trusted-root=%v not-expired=%v not-revoked=%v\n",
				sig.ChainValid, sig.TrustedRoot, sig.NotExpired, sig.NotRevoked)
			if sig.Location != "" {
				fmt.Printf("  Location:   %s\n", sig.Location)
			}
			if sig.SubFilter != "" {
				fmt.Printf("  SubFilter:  %s\n", sig.SubFilter)
			}
		}
		for _, e := range sig.Errors {
			fmt.Printf("  Error:      %s\n", e)
		}
		for _, w := range sig.Warnings {
			fmt.Printf("  Warning:    %s\n", w)
		}
		fmt.Println("")
	}
}
