package main

import (
	"fmt"
	"os"

	"github.com/cloo-solutions/creditrust/internal/cli"
	"github.com/cloo-solutions/creditrust/internal/cli/admin"
	"github.com/cloo-solutions/creditrust/internal/cli/client"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "creditrust",
		Short: "Complaint question answering over customer feedback",
		Long: `CrediTrust turns customer complaint narratives into a searchable index and
answers questions about them with cited excerpts.

Pipeline:
  creditrust chunk --input complaints.csv   split narratives into chunks
  creditrust ingest                         embed chunks into the vector store
  creditrust ask "question"                 answer from the most similar excerpts
  creditrust serve                          expose /ask over HTTP

Configuration is read from CREDITRUST_* environment variables and .env.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "Ask a running server instead of opening the store (overrides CREDITRUST_API_URL)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(admin.ChunkCmd())
	rootCmd.AddCommand(admin.IngestCmd())
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.EvalCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
