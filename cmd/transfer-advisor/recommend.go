// cmd/transfer-advisor/recommend.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"transfer-advisor/internal/models"
	"transfer-advisor/internal/pipeline"

	"github.com/spf13/cobra"
)

func recommendCmd(configPath *string) *cobra.Command {
	var (
		textFile    string
		text        string
		scoresFile  string
		patientFile string
		requestID   string
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Run one recommendation and print the response as JSON",
		Example: `  transfer-advisor recommend --text "3-year-old with respiratory distress, SpO2 88%"
  transfer-advisor recommend --file note.txt --scores scores.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			clinical, err := readClinicalText(text, textFile, cmd.InOrStdin())
			if err != nil {
				return err
			}

			req := pipeline.Request{RequestID: requestID, ClinicalText: clinical}
			if scoresFile != "" {
				var scores models.ScoringResults
				if err := readJSONFile(scoresFile, &scores); err != nil {
					return err
				}
				req.ScoringResults = scores
			}
			if patientFile != "" {
				if err := readJSONFile(patientFile, &req.PatientData); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			resp := a.pipeline.Process(ctx, req)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVarP(&textFile, "file", "f", "", "file holding the clinical text (- for stdin)")
	cmd.Flags().StringVarP(&text, "text", "t", "", "clinical text")
	cmd.Flags().StringVar(&scoresFile, "scores", "", "JSON file with pediatric scoring results")
	cmd.Flags().StringVar(&patientFile, "patient", "", "JSON file with structured patient data")
	cmd.Flags().StringVar(&requestID, "request-id", "", "transfer request id (generated when empty)")
	return cmd
}

func readClinicalText(text, file string, stdin io.Reader) (string, error) {
	switch {
	case text != "" && file != "":
		return "", fmt.Errorf("use either --text or --file, not both")
	case text != "":
		return text, nil
	case file == "-":
		b, err := io.ReadAll(stdin)
		return strings.TrimSpace(string(b)), err
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read clinical text: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return "", fmt.Errorf("clinical text is required (--text or --file)")
}

func readJSONFile(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
