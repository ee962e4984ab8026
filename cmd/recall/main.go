// Package main provides the CLI entry point for the Recall memory assistant.
//
// Recall ingests messages from a WhatsApp-style channel, stores text,
// photo, and voice-note memories, answers semantic search questions,
// and delivers scheduled reminders back over the same channel.
//
// # Basic Usage
//
// Start the server:
//
//	recall serve --config recall.yaml
//
// # Environment Variables
//
// Secrets are typically injected through the config file via ${VAR}
// expansion:
//
//   - TWILIO_ACCOUNT_SID / TWILIO_AUTH_TOKEN: Twilio API credentials
//   - OPENAI_API_KEY: OpenAI key for classification and transcription
//   - MEMORY_SERVICE_API_KEY: bearer token for the semantic memory service
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "recall",
		Short: "Recall WhatsApp memory assistant",
		Long: `Recall is a personal memory assistant reachable over WhatsApp.

Send it text, photos, or voice notes and it remembers them. Ask it a
question and it searches what you told it. Ask for a reminder and it
messages you back at the right time.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(buildServeCmd())
	root.AddCommand(buildVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("recall %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
