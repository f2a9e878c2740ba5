package admin

import (
	"fmt"

	"github.com/cloo-solutions/creditrust/internal/cli"
	"github.com/cloo-solutions/creditrust/internal/service"
	"github.com/spf13/cobra"
)

// ChunkCmd splits the cleaned complaints dataset into chunk records.
func ChunkCmd() *cobra.Command {
	var (
		input   string
		output  string
		size    int
		overlap int
	)

	cmd := &cobra.Command{
		Use:   "chunk --input <complaints.csv>",
		Short: "Split complaint narratives into chunks",
		Long: `Reads the cleaned complaints CSV (Product, Complaint ID, cleaned_narrative)
and writes one row per chunk to the chunked dataset. Locations may be local
paths or s3://bucket/key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := cli.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			defer rt.Close()

			if cmd.Flags().Changed("size") {
				rt.Config.ChunkSize = size
			}
			if cmd.Flags().Changed("overlap") {
				rt.Config.ChunkOverlap = overlap
			}
			chunkCfg, err := service.NewChunkConfig(rt.Config.ChunkSize, rt.Config.ChunkOverlap)
			if err != nil {
				return err
			}

			a, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}

			report, err := a.ChunkDataset(cmd.Context(), input, output, chunkCfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d complaints -> %d chunks\n", report.Complaints, report.Chunks)
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Cleaned complaints CSV (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Chunked dataset location (default CREDITRUST_CHUNKED_PATH)")
	cmd.Flags().IntVar(&size, "size", 0, "Chunk size in characters (default CREDITRUST_CHUNK_SIZE)")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "Chunk overlap in characters (default CREDITRUST_CHUNK_OVERLAP)")
	cmd.MarkFlagRequired("input")
	cli.OverridesEnv(cmd, "output", "CREDITRUST_CHUNKED_PATH")
	cli.OverridesEnv(cmd, "size", "CREDITRUST_CHUNK_SIZE")
	cli.OverridesEnv(cmd, "overlap", "CREDITRUST_CHUNK_OVERLAP")

	return cmd
}
