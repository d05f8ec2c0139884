// Package parser extracts raw text blocks from uploaded documents. The
// built-in parser understands plain text, Markdown, and JSON; richer formats
// (PDF, DOCX) arrive through an external DocumentParser implementation.
package parser

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/reqforge/reqforge/pkg/models"
)

// DocumentParser turns one uploaded document into raw text blocks tagged
// with provenance.
type DocumentParser interface {
	Extract(filename string, data []byte, contentType string) ([]models.RawBlock, error)
}

// Builtin is the in-process DocumentParser for text-like formats.
type Builtin struct {
	logger *slog.Logger
}

var _ DocumentParser = (*Builtin)(nil)

// NewBuiltin creates the built-in parser.
func NewBuiltin(logger *slog.Logger) *Builtin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builtin{logger: logger.With("component", "document_parser")}
}

// Extract splits a document into blocks. All blocks of one document share
// the document's sha1; Markdown splits on headings, JSON flattens scalar
// leaves, everything else is a single block. Unparseable JSON degrades to
// plain text rather than failing.
func (p *Builtin) Extract(filename string, data []byte, contentType string) ([]models.RawBlock, error) {
	sum := sha1.Sum(data)
	meta := models.BlockMeta{
		SourceFile:  filename,
		ContentType: contentType,
		SHA1:        hex.EncodeToString(sum[:]),
		CreatedAt:   time.Now().UTC(),
	}

	text := strings.ToValidUTF8(string(data), "")

	var sections []string
	switch detectKind(filename, contentType) {
	case kindMarkdown:
		sections = splitMarkdownSections(text)
	case kindJSON:
		flat, err := flattenJSON([]byte(text))
		if err != nil {
			p.logger.Warn("Invalid JSON document, treating as plain text", "file", filename, "error", err)
			sections = []string{text}
		} else {
			sections = []string{flat}
		}
	default:
		sections = []string{text}
	}

	blocks := make([]models.RawBlock, 0, len(sections))
	for _, s := range sections {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		blocks = append(blocks, models.RawBlock{Text: s, Meta: meta})
	}
	return blocks, nil
}

type docKind int

const (
	kindText docKind = iota
	kindMarkdown
	kindJSON
)

func detectKind(filename, contentType string) docKind {
	ct := contentType
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))

	switch ct {
	case "text/markdown":
		return kindMarkdown
	case "application/json", "text/json":
		return kindJSON
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		return kindMarkdown
	case ".json":
		return kindJSON
	}
	return kindText
}

// splitMarkdownSections splits on ATX headings outside code fences. The
// heading line stays with its section; a preamble before the first heading
// becomes its own section.
func splitMarkdownSections(text string) []string {
	var sections []string
	var current strings.Builder
	inFence := false

	flush := func() {
		if current.Len() > 0 {
			sections = append(sections, current.String())
			current.Reset()
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence && isATXHeading(trimmed) {
			flush()
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()
	return sections
}

func isATXHeading(line string) bool {
	if !strings.HasPrefix(line, "#") {
		return false
	}
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	return level <= 6 && level < len(line) && line[level] == ' '
}

// flattenJSON renders scalar leaves as "path: value" lines with
// deterministic key order.
func flattenJSON(data []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", err
	}
	var lines []string
	walkJSON("", doc, &lines)
	return strings.Join(lines, "\n"), nil
}

func walkJSON(path string, v any, lines *[]string) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkJSON(joinPath(path, k), val[k], lines)
		}
	case []any:
		for i, item := range val {
			walkJSON(fmt.Sprintf("%s[%d]", path, i), item, lines)
		}
	case nil:
		// Null leaves carry no text.
	default:
		*lines = append(*lines, fmt.Sprintf("%s: %v", path, val))
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
