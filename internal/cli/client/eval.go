package client

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cloo-solutions/creditrust/internal/domain"
	"github.com/cloo-solutions/creditrust/internal/service"
	"github.com/spf13/cobra"
)

// EvalCmd creates the eval command.
func EvalCmd() *cobra.Command {
	var (
		file    string
		product string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Write a Markdown evaluation report",
		Long: `Asks a fixed set of questions and writes a Markdown table with the generated
answer, the top two sources and empty columns for a reviewer's score.

The question file holds one question per line; blank lines and lines starting
with # are ignored. Without --file the built-in question set is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			questions := service.DefaultEvaluationQuestions
			if file != "" {
				loaded, err := loadQuestions(file)
				if err != nil {
					return err
				}
				questions = loaded
			}

			return withAsker(cmd, func(asker Asker) error {
				rows, err := service.EvaluateWith(cmd.Context(), asker, questions, product)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", output, err)
					}
					defer f.Close()
					w = f
				}
				return service.WriteEvaluationReport(w, rows)
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Question file, one per line")
	cmd.Flags().StringVarP(&product, "product", "p", domain.AllProducts, "Product filter applied to every question")
	cmd.Flags().StringVarP(&output, "out", "o", "", "Write the report here instead of stdout")

	return cmd
}

func loadQuestions(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return parseQuestions(f)
}

func parseQuestions(r io.Reader) ([]string, error) {
	var questions []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		questions = append(questions, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("no questions found")
	}
	return questions, nil
}
