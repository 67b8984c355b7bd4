package extractor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"sort"
	"strings"

	"document-translator/internal/logger"
	"document-translator/internal/types"
)

const docxDocumentPath = "word/document.xml"

// extractDocx reads the main document part of a DOCX archive. Paragraphs
// become text blocks; explicit page breaks split pages; media parts ride
// along as image blocks on the first page they could belong to.
func (e *Extractor) extractDocx(data []byte, lang types.Language) (*types.Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, types.NewAppError(types.ErrExtractionFailure, "not a valid DOCX archive", err)
	}

	var docFile *zip.File
	var media []*zip.File
	for _, f := range zr.File {
		switch {
		case f.Name == docxDocumentPath:
			docFile = f
		case strings.HasPrefix(f.Name, "word/media/"):
			media = append(media, f)
		}
	}
	if docFile == nil {
		return nil, types.NewAppError(types.ErrExtractionFailure, "DOCX archive is missing word/document.xml", nil)
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, types.NewAppError(types.ErrExtractionFailure, "failed to open word/document.xml", err)
	}
	defer rc.Close()

	pageTexts, err := parseDocxParagraphs(rc)
	if err != nil {
		return nil, err
	}
	if len(pageTexts) == 0 {
		pageTexts = [][]string{nil}
	}

	doc := &types.Document{Language: lang, PageCount: len(pageTexts)}
	for i, paragraphs := range pageTexts {
		page := types.Page{Index: i}
		for _, p := range paragraphs {
			page.Blocks = append(page.Blocks, types.Block{
				Index:     len(page.Blocks),
				Kind:      types.BlockText,
				Text:      p,
				IsFormula: isMathFormula(p),
			})
		}
		doc.Pages = append(doc.Pages, page)
	}

	// DOCX flows text, so media parts carry no page anchor here; attach them
	// to the first page in archive order.
	sort.Slice(media, func(i, j int) bool { return media[i].Name < media[j].Name })
	for _, m := range media {
		mr, err := m.Open()
		if err != nil {
			logger.Debug("skipping unreadable media part", logger.String("name", m.Name), logger.Err(err))
			continue
		}
		b, err := io.ReadAll(mr)
		mr.Close()
		if err != nil || len(b) == 0 {
			continue
		}
		first := &doc.Pages[0]
		first.Blocks = append(first.Blocks, types.Block{
			Index:     len(first.Blocks),
			Kind:      types.BlockImage,
			Image:     b,
			IsFormula: isLikelyFormulaImage(b),
		})
	}

	logger.Info("DOCX extraction complete", logger.Int("pages", len(doc.Pages)))
	return doc, nil
}

// parseDocxParagraphs walks the WordprocessingML token stream, collecting
// paragraph text and splitting pages on explicit page breaks.
func parseDocxParagraphs(r io.Reader) ([][]string, error) {
	dec := xml.NewDecoder(r)

	var pages [][]string
	var current []string
	var para strings.Builder
	pageBreak := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, types.NewAppError(types.ErrExtractionFailure, "malformed word/document.xml", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return nil, types.NewAppError(types.ErrExtractionFailure, "malformed text run in word/document.xml", err)
				}
				para.WriteString(s)
			case "tab":
				para.WriteString("\t")
			case "br":
				for _, a := range t.Attr {
					if a.Name.Local == "type" && a.Value == "page" {
						pageBreak = true
					}
				}
			case "lastRenderedPageBreak":
				pageBreak = true
			}
		case xml.EndElement:
			if t.Name.Local != "p" {
				continue
			}
			if text := strings.TrimSpace(para.String()); text != "" {
				current = append(current, text)
			}
			para.Reset()
			if pageBreak {
				pages = append(pages, current)
				current = nil
				pageBreak = false
			}
		}
	}

	if len(current) > 0 || len(pages) == 0 {
		pages = append(pages, current)
	}
	return pages, nil
}
