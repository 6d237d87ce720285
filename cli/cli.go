// Package cli implements the pdfsign command line tool.
package cli

import (
	"fmt"
	"os"
)

// Version information, overridden at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable so tests can intercept exits.
var osExit = os.Exit

// Run dispatches the command line arguments.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	switch command := args[1]; command {
	case "sign":
		SignCommand(args)
	case "verify":
		VerifyCommand(args)
	case "inspect":
		InspectCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		Usage()
		osExit(1)
	}
}

// Usage prints the top level help text.
func Usage() {
	fmt.Printf("pdfsign - PDF digital signature tool\n\n")
	fmt.Printf("Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  sign     Sign a PDF file with a digital signature")
	fmt.Println("  verify   Verify the digital signature(s) of a PDF file")
	fmt.Println("  inspect  Show document structure, fields and signatures")
	fmt.Println("  version  Show version information")
	fmt.Println("  help     Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s sign -reason \"Approved\" input.pdf output.pdf cert.pem key.pem\n", os.Args[0])
	fmt.Printf("  %s verify document.pdf\n", os.Args[0])
	fmt.Printf("  %s inspect -json document.pdf\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("pdfsign version %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
}
