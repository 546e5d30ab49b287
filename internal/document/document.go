package document

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Document is a source file discovered under a technology-scoped docs
// directory. Path is relative to the docs root and doubles as the document id.
type Document struct {
	Path       string
	Technology string
	Content    string
	Hash       string
	ModTime    time.Time
}

// Chunk is one retrievable unit of a document: at most one section of prose
// (or part of one, when the section exceeded the size limit), carrying the
// section metadata it came from.
type Chunk struct {
	ID           string
	DocumentPath string
	Technology   string
	SectionTitle string
	SectionLevel int
	Category     string
	Ordinal      int
	Content      string
	ContentHash  string
}

// ParseError marks a document that could not be processed. Indexing treats it
// as skip-and-continue, never as a reason to abort the run.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
}

// ContentHash is the hash used for both document-level change detection and
// per-chunk staleness checks.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ChunkID derives the stable chunk id from the document path and the chunk's
// ordinal within it. Re-parsing an unchanged document reproduces identical
// ids, which is what lets the indexer skip re-embedding by hash comparison.
func ChunkID(docPath string, ordinal int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", docPath, ordinal)))
	return hex.EncodeToString(sum[:16])
}

// markdownExts are the document kinds the parser understands. Anything else
// yields a ParseError.
var markdownExts = map[string]bool{
	".md":       true,
	".markdown": true,
}

func SupportedKind(path string) bool {
	return markdownExts[strings.ToLower(filepath.Ext(path))]
}
