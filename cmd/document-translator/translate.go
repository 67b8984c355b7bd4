package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"document-translator/internal/llm"
	"document-translator/internal/mathpix"
	"document-translator/internal/ocr"
	"document-translator/internal/pipeline"
	"document-translator/internal/types"
)

var (
	flagLanguage    string
	flagDomain      string
	flagFormat      string
	flagFormulaMode string
	flagOutput      string
	flagHTML        string
	flagTimeout     time.Duration
)

var translateCmd = &cobra.Command{
	Use:   "translate <input-file>",
	Short: "Translate a document to English",
	Long: `Translate runs the full pipeline on one document: extraction (with OCR
fallback for scanned pages), formula detection, formula recognition,
translation and assembly. The result is written as Markdown; pass --html to
also write the rendered HTML body.`,
	Args: cobra.ExactArgs(1),
	RunE: runTranslate,
}

func init() {
	rootCmd.AddCommand(translateCmd)

	translateCmd.Flags().StringVarP(&flagLanguage, "language", "l", "", "source language: ru, ar or zh (required)")
	translateCmd.Flags().StringVarP(&flagDomain, "domain", "d", "general", "translation domain: general, engineering, academic or scientific")
	translateCmd.Flags().StringVarP(&flagFormat, "format", "f", "", "input format: pdf, docx or txt (default: detected from content)")
	translateCmd.Flags().StringVar(&flagFormulaMode, "formula-mode", "markup", "formula output: markup or image")
	translateCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output Markdown file (default: <input>.en.md)")
	translateCmd.Flags().StringVar(&flagHTML, "html", "", "also write the rendered HTML body to this file")
	translateCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "overall processing timeout, 0 for none")
	translateCmd.MarkFlagRequired("language")
}

func runTranslate(cmd *cobra.Command, args []string) error {
	mgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := mgr.Get()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	ctx := cmd.Context()
	if flagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagTimeout)
		defer cancel()
	}

	orch := pipeline.New(cfg,
		ocr.NewTesseractEngine(),
		mathpix.NewClient(cfg.MathpixAppID, cfg.MathpixAppKey, cfg.MathpixBaseURL),
		llm.NewClient(cfg),
	)

	out, warnings, err := orch.Process(ctx, pipeline.Request{
		Data:        data,
		Format:      types.Format(flagFormat),
		Language:    types.Language(flagLanguage),
		Domain:      types.Domain(flagDomain),
		FormulaMode: types.FormulaMode(flagFormulaMode),
	}, func(stage types.Stage, completed, total int) {
		if total > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d/%d\n", stage, completed, total)
			return
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s...\n", stage)
	})
	if err != nil {
		return err
	}

	for _, w := range warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w.String())
	}

	outPath := flagOutput
	if outPath == "" {
		outPath = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".en.md"
	}
	if err := os.WriteFile(outPath, []byte(out.Markdown), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "wrote", outPath)

	if flagHTML != "" {
		if err := os.WriteFile(flagHTML, []byte(out.HTML), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", flagHTML, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "wrote", flagHTML)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "formulas: %d recognized, %d embedded as images, %d unrecognized; degraded pages: %d\n",
		out.Stats.RecognizedCount, out.Stats.ImageFallbacks, out.Stats.FailedFormulas, out.Stats.DegradedPages)
	return nil
}
