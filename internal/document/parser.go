package document

import (
	"path/filepath"
	"strings"

	"ragdocs/backend/internal/text"
)

// Parser turns a document into its ordered chunk sequence. Parsing is
// deterministic: the same content always yields the same chunks with the same
// ids and hashes.
type Parser struct {
	maxChars int
}

func NewParser(maxChars int) *Parser {
	return &Parser{maxChars: maxChars}
}

// Parse splits a document at heading boundaries, sub-splitting oversized
// sections at paragraph boundaries, and attaches section metadata to every
// chunk it produces. Front matter and comment markers are stripped; code
// fences are preserved verbatim.
func (p *Parser) Parse(doc Document) ([]Chunk, error) {
	if !SupportedKind(doc.Path) {
		return nil, &ParseError{Path: doc.Path, Reason: "unsupported document kind " + filepath.Ext(doc.Path)}
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, &ParseError{Path: doc.Path, Reason: "empty document"}
	}

	meta, body := text.ExtractFrontMatter(doc.Content)
	body = text.StripComments(body)

	frontCategory := frontMatterCategory(meta)

	var chunks []Chunk
	ordinal := 0
	for _, section := range text.SplitSections(body) {
		title := section.Title
		if title == "" {
			title = "Main Content"
		}

		for _, piece := range text.SplitBody(section.Body, p.maxChars) {
			category := frontCategory
			if category == "" {
				category = DetectCategory(piece, title)
			}

			chunks = append(chunks, Chunk{
				ID:           ChunkID(doc.Path, ordinal),
				DocumentPath: doc.Path,
				Technology:   doc.Technology,
				SectionTitle: title,
				SectionLevel: section.Level,
				Category:     category,
				Ordinal:      ordinal,
				Content:      piece,
				ContentHash:  ContentHash(piece),
			})
			ordinal++
		}
	}

	if len(chunks) == 0 {
		return nil, &ParseError{Path: doc.Path, Reason: "no sections with content"}
	}
	return chunks, nil
}

func frontMatterCategory(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	if c, ok := meta["category"].(string); ok {
		return strings.ToLower(strings.TrimSpace(c))
	}
	return ""
}
