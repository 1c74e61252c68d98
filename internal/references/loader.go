package references

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"examforge/internal/models"
	"examforge/internal/util"

	"github.com/ledongthuc/pdf"
)

const (
	defaultChunkSize    = 1500
	defaultChunkOverlap = 150
)

// Loader prepares a source's uploaded reference material as prompt excerpts.
// Extracted text is cached per file since every batch of a source reuses it.
type Loader struct {
	Root     string
	MaxRunes int

	mu    sync.Mutex
	cache map[string][]string
}

func NewLoader(root string, maxRunes int) *Loader {
	return &Loader{Root: root, MaxRunes: maxRunes, cache: map[string][]string{}}
}

// Excerpts returns nil when the source has no reference file.
func (l *Loader) Excerpts(ctx context.Context, src models.Source) ([]string, error) {
	if strings.TrimSpace(src.ReferencePath) == "" {
		return nil, nil
	}
	path, err := util.ResolveUnder(l.Root, src.ReferencePath)
	if err != nil {
		return nil, fmt.Errorf("reference for %s: %w", src.SourceID, err)
	}
	l.mu.Lock()
	cached, ok := l.cache[path]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var text string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = extractPDF(path)
	default:
		var b []byte
		b, err = os.ReadFile(path)
		text = string(b)
	}
	if err != nil {
		return nil, fmt.Errorf("load reference %s: %w", src.ReferencePath, err)
	}
	text = util.SanitizeText(text)
	if text == "" {
		return nil, fmt.Errorf("load reference %s: %w", src.ReferencePath, util.ErrNoExtractableText)
	}

	excerpts := l.budget(util.ChunkText(text, defaultChunkSize, defaultChunkOverlap))
	l.mu.Lock()
	l.cache[path] = excerpts
	l.mu.Unlock()
	return excerpts, nil
}

// budget keeps leading chunks until MaxRunes is spent.
func (l *Loader) budget(chunks []string) []string {
	if l.MaxRunes <= 0 {
		return chunks
	}
	left := l.MaxRunes
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if left <= 0 {
			break
		}
		c = util.TruncateRunes(c, left)
		left -= len([]rune(c))
		out = append(out, c)
	}
	return out
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return "", fmt.Errorf("read extracted text: %w", err)
	}
	return buf.String(), nil
}
