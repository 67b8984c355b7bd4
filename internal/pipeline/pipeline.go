// Package pipeline orchestrates the translation stages: extraction, formula
// detection, recognition, translation and assembly. The orchestrator owns the
// stage state machine and the fatal/recoverable error policy; recoverable
// degradations surface as warnings beside a successful result, fatal errors
// abort the request with the failing stage attached.
package pipeline

import (
	"context"
	"strings"

	"document-translator/internal/assembler"
	"document-translator/internal/config"
	"document-translator/internal/detector"
	"document-translator/internal/extractor"
	"document-translator/internal/logger"
	"document-translator/internal/recognizer"
	"document-translator/internal/translator"
	"document-translator/internal/types"
)

// Request describes one translation job.
type Request struct {
	// Data is the raw document bytes.
	Data []byte
	// Format of the input. Detected from content when empty.
	Format types.Format
	// Language is the declared source language. Required.
	Language types.Language
	// Domain selects the translation register. Defaults to general.
	Domain types.Domain
	// FormulaMode selects formula substitution. Defaults to markup.
	FormulaMode types.FormulaMode
}

// ProgressFunc receives stage transitions and, during translation, per-chunk
// progress counts.
type ProgressFunc func(stage types.Stage, completed, total int)

// Stage slices consumed by the orchestrator, satisfied by the concrete
// implementations in their packages.
type documentExtractor interface {
	Extract(ctx context.Context, data []byte, format types.Format, lang types.Language) (*types.Document, []types.Warning, error)
}

type formulaRecognizer interface {
	Recognize(ctx context.Context, doc *types.Document, protected *types.ProtectedText, mode types.FormulaMode) []types.Warning
}

type textTranslator interface {
	Translate(ctx context.Context, protected string, lang types.Language, domain types.Domain, progress translator.ProgressFunc) (string, []types.Warning, error)
}

type documentAssembler interface {
	Assemble(translated string, protected *types.ProtectedText, doc *types.Document, lang types.Language, domain types.Domain) (*types.OutputDocument, error)
}

// Orchestrator drives a document through the pipeline stages.
type Orchestrator struct {
	cfg        *config.Config
	extractor  documentExtractor
	recognizer formulaRecognizer
	translator textTranslator
	assembler  documentAssembler
}

// New wires an orchestrator over the given external capabilities. A nil
// capability disables that stage's external calls and the stage degrades per
// its own policy.
func New(cfg *config.Config, ocr extractor.OCRCapability, math recognizer.Capability, translation translator.Capability) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		extractor:  extractor.New(cfg, ocr),
		recognizer: recognizer.New(cfg, math),
		translator: translator.New(cfg, translation),
		assembler:  assembler.New(),
	}
}

var supportedLanguages = map[types.Language]bool{
	types.LanguageRussian: true,
	types.LanguageArabic:  true,
	types.LanguageChinese: true,
}

// Process runs the full pipeline on one document. Warnings accumulated across
// stages are returned beside the output; on error the returned warnings cover
// the stages that completed.
func (o *Orchestrator) Process(ctx context.Context, req Request, progress ProgressFunc) (*types.OutputDocument, []types.Warning, error) {
	if err := validateRequest(&req); err != nil {
		return nil, nil, o.fail(progress, "", err)
	}

	step := func(s types.Stage) {
		if progress != nil {
			progress(s, 0, 0)
		}
	}
	var warnings []types.Warning

	step(types.StageExtracting)
	format := req.Format
	if format == "" {
		f, err := extractor.DetectFormat(req.Data)
		if err != nil {
			return nil, nil, o.fail(progress, types.StageExtracting, err)
		}
		format = f
	}
	doc, extractWarnings, err := o.extractor.Extract(ctx, req.Data, format, req.Language)
	if err != nil {
		return nil, warnings, o.fail(progress, types.StageExtracting, err)
	}
	warnings = append(warnings, extractWarnings...)

	if err := ctx.Err(); err != nil {
		return nil, warnings, o.fail(progress, types.StageDetecting, canceled(err))
	}
	step(types.StageDetecting)
	protected := detector.Detect(doc)
	if strings.TrimSpace(protected.Text) == "" && len(protected.Spans) == 0 && !anyDegraded(doc) {
		return nil, warnings, o.fail(progress, types.StageDetecting,
			types.NewAppError(types.ErrExtractionFailure, "document contains no extractable text", nil))
	}
	logger.Info("formulas detected",
		logger.Int("spans", len(protected.Spans)),
		logger.Int("pages", doc.PageCount))

	if err := ctx.Err(); err != nil {
		return nil, warnings, o.fail(progress, types.StageRecognizing, canceled(err))
	}
	step(types.StageRecognizing)
	warnings = append(warnings, o.recognizer.Recognize(ctx, doc, protected, req.FormulaMode)...)

	if err := ctx.Err(); err != nil {
		return nil, warnings, o.fail(progress, types.StageTranslating, canceled(err))
	}
	step(types.StageTranslating)
	translated, translationWarnings, err := o.translator.Translate(ctx, protected.Text, req.Language, req.Domain,
		func(completed, total int) {
			if progress != nil {
				progress(types.StageTranslating, completed, total)
			}
		})
	warnings = append(warnings, translationWarnings...)
	if err != nil {
		return nil, warnings, o.fail(progress, types.StageTranslating, err)
	}

	step(types.StageAssembling)
	out, err := o.assembler.Assemble(translated, protected, doc, req.Language, req.Domain)
	if err != nil {
		return nil, warnings, o.fail(progress, types.StageAssembling, err)
	}

	step(types.StageDone)
	logger.Info("document processed",
		logger.String("language", string(req.Language)),
		logger.Int("pages", doc.PageCount),
		logger.Int("formulas", out.Stats.FormulaCount),
		logger.Int("warnings", len(warnings)))
	return out, warnings, nil
}

// validateRequest checks the request and backfills defaults in place.
func validateRequest(req *Request) error {
	if len(req.Data) == 0 {
		return types.NewAppError(types.ErrExtractionFailure, "document is empty", nil)
	}
	if !supportedLanguages[req.Language] {
		return types.NewAppErrorWithDetails(types.ErrConfig,
			"unsupported source language", string(req.Language), nil)
	}

	if req.Domain == "" {
		req.Domain = types.DomainGeneral
	}
	switch req.Domain {
	case types.DomainGeneral, types.DomainEngineering, types.DomainAcademic, types.DomainScientific:
	default:
		return types.NewAppErrorWithDetails(types.ErrConfig,
			"unknown translation domain", string(req.Domain), nil)
	}

	if req.FormulaMode == "" {
		req.FormulaMode = types.FormulaModeMarkup
	}
	switch req.FormulaMode {
	case types.FormulaModeImage, types.FormulaModeMarkup:
	default:
		return types.NewAppErrorWithDetails(types.ErrConfig,
			"unknown formula mode", string(req.FormulaMode), nil)
	}
	return nil
}

// fail annotates the error with the failing stage, logs it and reports the
// failed state to the progress callback.
func (o *Orchestrator) fail(progress ProgressFunc, stage types.Stage, err error) error {
	appErr, ok := err.(*types.AppError)
	if !ok {
		appErr = types.NewAppError(types.ErrInternal, "pipeline stage failed", err)
	}
	if stage != "" && appErr.Stage == "" {
		appErr.WithStage(stage)
	}

	logger.Error("pipeline failed", appErr,
		logger.String("stage", string(appErr.Stage)),
		logger.String("code", string(appErr.Code)))
	if progress != nil {
		progress(types.StageFailed, 0, 0)
	}
	return appErr
}

func canceled(err error) *types.AppError {
	return types.NewAppError(types.ErrInternal, "processing canceled", err)
}

func anyDegraded(doc *types.Document) bool {
	for _, p := range doc.Pages {
		if p.Degraded {
			return true
		}
	}
	return false
}
