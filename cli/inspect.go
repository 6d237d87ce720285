package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/quillsign/pdfsign/engine"
)

// InspectCommand implements the 'inspect' command.
func InspectCommand(args []string) {
	inspectFlags := flag.NewFlagSet("inspect", flag.ExitOnError)

	jsonOut := inspectFlags.Bool("json", false, "Output results in JSON format")

	inspectFlags.Usage = func() {
		fmt.Printf("Usage: %s inspect [options] <input.pdf>\n\n", os.Args[0])
		fmt.Println("Show document metadata, signature fields and embedded signatures.")
		fmt.Println("")
		fmt.Println("Options:")
		inspectFlags.PrintDefaults()
	}

	if err := inspectFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(inspectFlags.Args()) < 1 {
		inspectFlags.Usage()
		osExit(1)
		return
	}

	if err := inspectPDF(inspectFlags.Arg(0), *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}
}

// InspectOutput is the JSON view of a parsed document.
type InspectOutput struct {
	File       string            `json:"file"`
	Version    string            `json:"version"`
	PageCount  int               `json:"page_count"`
	Title      string            `json:"title,omitempty"`
	Author     string            `json:"author,omitempty"`
	Created    string            `json:"created,omitempty"`
	Modified   string            `json:"modified,omitempty"`
	Custom     map[string]string `json:"custom,omitempty"`
	Fields     []InspectField    `json:"signature_fields"`
	Signatures []InspectSig      `json:"signatures"`
}

// InspectField is the JSON view of a signature field.
type InspectField struct {
	Name   string `json:"name"`
	Page   int    `json:"page"`
	Signed bool   `json:"signed"`
}

// InspectSig is the JSON view of an embedded signature.
type InspectSig struct {
	FieldName   string `json:"field_name"`
	SignerName  string `json:"signer_name,omitempty"`
	Reason      string `json:"reason,omitempty"`
	SubFilter   string `json:"sub_filter,omitempty"`
	SigningTime string `json:"signing_time,omitempty"`
	Certificate string `json:"certificate,omitempty"`
}

func inspectPDF(inputPath string, jsonOut bool) error {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read PDF: %w", err)
	}
	doc, err := engine.ParseDocument(data)
	if err != nil {
		return fmt.Errorf("failed to parse PDF: %w", err)
	}

	out := InspectOutput{
		File:      inputPath,
		Version:   doc.Version,
		PageCount: doc.PageCount,
		Custom:    doc.Metadata.Custom,
	}
	if doc.Metadata.Title != nil {
		out.Title = *doc.Metadata.Title
	}
	if doc.Metadata.Author != nil {
		out.Author = *doc.Metadata.Author
	}
	if doc.Metadata.CreationDate != nil {
		out.Created = doc.Metadata.CreationDate.Format(time.RFC3339)
	}
	if doc.Metadata.ModificationDate != nil {
		out.Modified = doc.Metadata.ModificationDate.Format(time.RFC3339)
	}
	for _, f := range doc.SignatureFields {
		out.Fields = append(out.Fields, InspectField{Name: f.Name, Page: f.Page, Signed: f.Signed})
	}
	for _, s := range doc.ExistingSignatures {
		sig := InspectSig{
			FieldName:  s.FieldName,
			SignerName: s.SignerName,
			Reason:     s.Reason,
			SubFilter:  s.SubFilter,
		}
		if s.SigningTime != nil {
			sig.SigningTime = s.SigningTime.Format(time.RFC3339)
		}
		if s.Certificate != nil {
			sig.Certificate = s.Certificate.CommonName
		}
		out.Signatures = append(out.Signatures, sig)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("File:      %s\n", out.File)
	fmt.Printf("Version:   PDF %s\n", out.Version)
	fmt.Printf("Pages:     %d\n", out.PageCount)
	if out.Title != "" {
		fmt.Printf("Title:     %s\n", out.Title)
	}
	if out.Author != "" {
		fmt.Printf("Author:    %s\n", out.Author)
	}
	if out.Created != "" {
		fmt.Printf("Created:   %s\n", out.Created)
	}
	if out.Modified != "" {
		fmt.Printf("Modified:  %s\n", out.Modified)
	}
	fmt.Printf("\nSignature fields: %d\n", len(out.Fields))
	for _, f := range out.Fields {
		state := "unsigned"
		if f.Signed {
			state = "signed"
		}
		fmt.Printf("  %s (page %d, %s)\n", f.Name, f.Page+1, state)
	}
	fmt.Printf("\nSignatures: %d\n", len(out.Signatures))
	for _, s := range out.Signatures {
		fmt.Printf("  %s", s.FieldName)
		if s.SignerName != "" {
			fmt.Printf(" by %s", s.SignerName)
		}
		if s.SigningTime != "" {
			fmt.Printf(" at %s", s.SigningTime)
		}
		fmt.Println("")
	}
	return nil
}
