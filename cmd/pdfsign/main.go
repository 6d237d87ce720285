// Command pdfsign signs, verifies and inspects PDF documents.
//
// Usage:
//
//	pdfsign <command> [options] <args>
//
// Commands:
//
//	sign     Sign a PDF file with a digital signature
//	verify   Verify the digital signature(s) of a PDF file
//	inspect  Show document structure, fields and signatures
//	version  Show version information
//	help     Show help message
//
// Examples:
//
//	# Sign a PDF
//	pdfsign sign -reason "Approved" input.pdf output.pdf cert.pem key.pem
//
//	# Verify a PDF with JSON output
//	pdfsign verify -json document.pdf
package main

import (
	"os"

	"github.com/quillsign/pdfsign/cli"
)

// Set at build time:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/pdfsign
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args)
}
