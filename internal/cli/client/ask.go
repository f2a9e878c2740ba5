package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cloo-solutions/creditrust/internal/api/handlers"
	"github.com/cloo-solutions/creditrust/internal/cli"
	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/cloo-solutions/creditrust/internal/service"
	"github.com/spf13/cobra"
)

// Asker answers one question, either in-process or over HTTP.
type Asker interface {
	Ask(ctx context.Context, input service.AskInput) (*service.AskResult, error)
}

// remoteAsker calls POST /ask on a running server.
type remoteAsker struct {
	api *APIClient
}

func (r *remoteAsker) Ask(ctx context.Context, input service.AskInput) (*service.AskResult, error) {
	resp, err := r.api.Post(ctx, "/ask", handlers.AskRequest{
		Question: input.Question,
		Product:  input.Product,
		TopK:     input.TopK,
	})
	if err != nil {
		return nil, err
	}

	var out handlers.AskResponse
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	result := &service.AskResult{
		Answer:  out.Answer,
		Source:  out.Source,
		Sources: out.Sources,
	}
	for _, d := range out.Documents {
		result.Documents = append(result.Documents, domain.RetrievedDocument{
			ChunkID:     d.ChunkID,
			Product:     d.Product,
			ComplaintID: d.ComplaintID,
			Text:        d.Text,
			Score:       d.Score,
		})
	}
	return result, nil
}

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var (
		product string
		topK    int
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about customer complaints",
		Long: `Retrieves the most similar complaint excerpts and asks the generation model
to answer from them. Runs in-process unless --api-url or CREDITRUST_API_URL
points at a running server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return withAsker(cmd, func(asker Asker) error {
				result, err := asker.Ask(cmd.Context(), service.AskInput{
					Question: args[0],
					Product:  product,
					TopK:     topK,
				})
				if err != nil {
					return err
				}
				return printAnswer(cmd.OutOrStdout(), result, outputJSON)
			})
		},
	}

	cmd.Flags().StringVarP(&product, "product", "p", domain.AllProducts, "Restrict retrieval to one product category")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of excerpts to retrieve (default CREDITRUST_TOP_K)")
	cli.OverridesEnv(cmd, "top-k", "CREDITRUST_TOP_K")

	return cmd
}

// withAsker runs fn against a remote server when one is configured, and
// against a locally opened store otherwise.
func withAsker(cmd *cobra.Command, fn func(Asker) error) error {
	if url := apiURLFrom(cmd); url != "" {
		return fn(&remoteAsker{api: NewAPIClient(url)})
	}

	rt, err := cli.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	defer rt.Close()

	a, err := rt.App(cmd.Context())
	if err != nil {
		return err
	}
	store, err := a.OpenStore(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer store.Close()

	assistant, err := a.Assistant(store)
	if err != nil {
		return err
	}
	return fn(assistant)
}

func printAnswer(w io.Writer, result *service.AskResult, outputJSON bool) error {
	if outputJSON {
		output, err := json.MarshalIndent(map[string]interface{}{
			"answer":  result.Answer,
			"source":  result.Source,
			"sources": result.Sources,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(output))
		return nil
	}

	fmt.Fprintln(w, result.Answer)
	if len(result.Sources) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for i, s := range result.Sources {
		fmt.Fprintf(w, "  %d. %s\n", i+1, strings.ReplaceAll(s, "\n", " "))
	}
	return nil
}
