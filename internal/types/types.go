// Package types defines the core data model and error taxonomy for the
// document translator: documents, pages, blocks, formula spans, translation
// chunks and the structured errors shared by every pipeline stage.
package types

import "fmt"

// Format identifies the input document format.
type Format string

const (
	FormatPDF       Format = "pdf"
	FormatDocx      Format = "docx"
	FormatPlainText Format = "txt"
)

// Language is the declared source language of a document.
type Language string

const (
	LanguageRussian Language = "ru"
	LanguageArabic  Language = "ar"
	LanguageChinese Language = "zh"
	LanguageEnglish Language = "en"
)

// Name returns the English display name of the language.
func (l Language) Name() string {
	switch l {
	case LanguageRussian:
		return "Russian"
	case LanguageArabic:
		return "Arabic"
	case LanguageChinese:
		return "Chinese"
	case LanguageEnglish:
		return "English"
	default:
		return string(l)
	}
}

// Domain selects the translation register. It maps to a translation-capability
// parameter and does not change any pipeline contract.
type Domain string

const (
	DomainGeneral     Domain = "general"
	DomainEngineering Domain = "engineering"
	DomainAcademic    Domain = "academic"
	DomainScientific  Domain = "scientific"
)

// FormulaMode selects how recognized formulas are substituted into the output
// document: as embedded raster images or as native math markup.
type FormulaMode string

const (
	FormulaModeImage  FormulaMode = "image"
	FormulaModeMarkup FormulaMode = "markup"
)

// Region is a rectangular area in page coordinates, origin at the upper-left
// corner. Used to crop formula images out of page rasters.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// IsEmpty reports whether the region has non-positive dimensions.
func (r Region) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// BlockKind distinguishes text paragraphs from non-text raster regions.
type BlockKind string

const (
	BlockText  BlockKind = "text"
	BlockImage BlockKind = "image"
)

// Block is one logical unit of a page: either a text paragraph or an embedded
// raster region (diagram, scanned figure, candidate formula image).
type Block struct {
	Index  int       `json:"index"`
	Kind   BlockKind `json:"kind"`
	Text   string    `json:"text,omitempty"`
	Image  []byte    `json:"-"`
	Region *Region   `json:"region,omitempty"`
	// IsFormula marks blocks the extractor pre-classified as mathematical
	// based on symbol density. The detector treats them as candidates.
	IsFormula bool `json:"is_formula,omitempty"`
}

// Page is an ordered sequence of blocks plus extraction status flags.
type Page struct {
	Index  int     `json:"index"`
	Blocks []Block `json:"blocks"`
	// Width and Height are the page dimensions in the same coordinate space
	// as block regions (PDF points). Zero when the format has no page geometry.
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	// Raster holds the rendered page image when one was needed, either for
	// OCR or for cropping formula regions. PNG encoded.
	Raster []byte `json:"-"`
	// UsedOCR is set when the page had no usable text layer and its text was
	// produced by optical character recognition.
	UsedOCR bool `json:"used_ocr,omitempty"`
	// Degraded is set when neither text extraction nor OCR produced text.
	// The page is emitted empty and a warning is recorded.
	Degraded bool `json:"degraded,omitempty"`
}

// Document is the immutable result of extraction: ordered pages plus source
// metadata. All downstream stages consume it, none mutate it.
type Document struct {
	Language  Language `json:"language"`
	PageCount int      `json:"page_count"`
	Pages     []Page   `json:"pages"`
}

// FormulaStatus tracks the lifecycle of a detected formula span.
type FormulaStatus string

const (
	// FormulaUnresolved is the initial status set by the detector.
	FormulaUnresolved FormulaStatus = "unresolved"
	// FormulaRecognized means the math capability returned structured markup.
	FormulaRecognized FormulaStatus = "recognized"
	// FormulaImageFallback means recognition failed but an image crop exists.
	FormulaImageFallback FormulaStatus = "image-fallback"
	// FormulaFailed means recognition failed and no image crop is available;
	// the raw candidate text is substituted at assembly, never dropped.
	FormulaFailed FormulaStatus = "failed"
)

// FormulaSpan is a detected mathematical expression, tracked independently of
// the surrounding prose. Created by the detector; status and recognized
// representation are mutated only by the recognizer.
type FormulaSpan struct {
	Index int    `json:"index"`
	Token string `json:"token"`
	// PageIndex and BlockIndex reference the originating block.
	PageIndex  int `json:"page_index"`
	BlockIndex int `json:"block_index"`
	// Text is the raw candidate (LaTeX-like) string, when the span came from
	// prose. Image is a PNG crop, when the span came from a raster region.
	Text  string `json:"text,omitempty"`
	Image []byte `json:"-"`

	Status FormulaStatus `json:"status"`
	// Recognized representations, filled by the recognizer.
	LaTeX      string  `json:"latex,omitempty"`
	MathML     string  `json:"mathml,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ProtectedText is the document text with every formula span replaced by its
// placeholder token.
type ProtectedText struct {
	Text  string        `json:"text"`
	Spans []FormulaSpan `json:"spans"`
}

// TranslationChunk is a bounded slice of protected text translated as one
// unit. Chunks are translated concurrently and reassembled by Index.
type TranslationChunk struct {
	Index      int    `json:"index"`
	Original   string `json:"original"`
	Translated string `json:"translated,omitempty"`
}

// OutputStats summarizes formula handling for the final artifact.
type OutputStats struct {
	FormulaCount    int `json:"formula_count"`
	RecognizedCount int `json:"recognized_count"`
	ImageFallbacks  int `json:"image_fallbacks"`
	FailedFormulas  int `json:"failed_formulas"`
	DegradedPages   int `json:"degraded_pages"`
}

// OutputDocument is the final artifact: the translated text with every
// placeholder substituted. Zero placeholder tokens remain; the assembler
// verifies this before returning.
type OutputDocument struct {
	Markdown string      `json:"markdown"`
	HTML     string      `json:"html"`
	Language Language    `json:"language"`
	Domain   Domain      `json:"domain"`
	Stats    OutputStats `json:"stats"`
}

// Stage names a pipeline stage, used in the orchestrator state machine and in
// error reporting.
type Stage string

const (
	StageExtracting  Stage = "extracting"
	StageDetecting   Stage = "detecting"
	StageRecognizing Stage = "recognizing"
	StageTranslating Stage = "translating"
	StageAssembling  Stage = "assembling"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// Warning records a non-fatal degradation surfaced beside a successful result.
type Warning struct {
	Stage   Stage  `json:"stage"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("[%s] %s", w.Stage, w.Message)
}

// ErrorCode classifies pipeline failures per the error taxonomy.
type ErrorCode string

const (
	ErrUnsupportedFormat      ErrorCode = "UNSUPPORTED_FORMAT"
	ErrExtractionFailure      ErrorCode = "EXTRACTION_FAILURE"
	ErrOCRUnavailable         ErrorCode = "OCR_UNAVAILABLE"
	ErrOCRTimeout             ErrorCode = "OCR_TIMEOUT"
	ErrRecognitionUnavailable ErrorCode = "RECOGNITION_UNAVAILABLE"
	ErrRecognitionTimeout     ErrorCode = "RECOGNITION_TIMEOUT"
	ErrPlaceholderIntegrity   ErrorCode = "PLACEHOLDER_INTEGRITY"
	ErrTranslationUnavailable ErrorCode = "TRANSLATION_UNAVAILABLE"
	ErrTranslationTimeout     ErrorCode = "TRANSLATION_TIMEOUT"
	ErrQuotaExceeded          ErrorCode = "QUOTA_EXCEEDED"
	ErrUnresolvedPlaceholder  ErrorCode = "UNRESOLVED_PLACEHOLDER"
	ErrConfig                 ErrorCode = "CONFIG_ERROR"
	ErrInternal               ErrorCode = "INTERNAL_ERROR"
)

// AppError is the structured error surfaced to callers: the failing code and
// stage plus a human message. Never carries file paths or credentials.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Stage   Stage     `json:"stage,omitempty"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithStage returns the error annotated with the pipeline stage it occurred
// in. The orchestrator uses this when transitioning to the failed state.
func (e *AppError) WithStage(stage Stage) *AppError {
	e.Stage = stage
	return e
}

// NewAppError creates a new AppError with the given code, message, and
// optional cause.
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details.
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// CodeOf extracts the ErrorCode from err, or ErrInternal when err is not an
// AppError.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}

// IsFatal reports whether the error code terminates a request. Recoverable
// codes are absorbed per-unit (page, span, chunk) by their owning stage.
func IsFatal(code ErrorCode) bool {
	switch code {
	case ErrUnsupportedFormat, ErrExtractionFailure,
		ErrPlaceholderIntegrity, ErrUnresolvedPlaceholder,
		ErrConfig, ErrInternal:
		return true
	default:
		return false
	}
}
