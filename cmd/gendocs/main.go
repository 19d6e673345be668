package main

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra/doc"
	"github.com/yoanbernabeu/guestexec/internal/cmd"
)

func main() {
	outputDir := "./docs/commands"

	// Create output directory if it doesn't exist
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	// Title each page after its command path
	filePrepender := func(filename string) string {
		name := filepath.Base(filename)
		name = strings.TrimSuffix(name, filepath.Ext(name))
		return "# " + strings.ReplaceAll(name, "_", " ") + "\n\n"
	}

	// Relative links between command pages
	linkHandler := func(name string) string {
		return strings.ToLower(name)
	}

	// Generate markdown documentation
	rootCmd := cmd.GetRootCmd()
	err := doc.GenMarkdownTreeCustom(rootCmd, outputDir, filePrepender, linkHandler)
	if err != nil {
		log.Fatalf("Failed to generate documentation: %v", err)
	}

	log.Printf("Documentation generated in %s", outputDir)
}
