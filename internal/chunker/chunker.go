// Package chunker splits page text into overlapping, sentence-aligned chunks
// sized for embedding models.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 4000
	DefaultMinChunkSize = 500
	DefaultOverlap      = 200
)

var sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+`)

// Options controls chunk sizing. All lengths are in bytes.
type Options struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	MinChunkSize int `mapstructure:"min_chunk_size"`
	Overlap      int `mapstructure:"overlap"`
}

// DefaultOptions returns the sizing used for bge-m3 sized contexts.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    DefaultChunkSize,
		MinChunkSize: DefaultMinChunkSize,
		Overlap:      DefaultOverlap,
	}
}

// Validate checks that the options describe a usable chunk layout.
func (o Options) Validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.ChunkSize)
	}
	if o.MinChunkSize < 0 || o.MinChunkSize >= o.ChunkSize {
		return fmt.Errorf("min chunk size must be in [0, %d), got %d", o.ChunkSize, o.MinChunkSize)
	}
	if o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		return fmt.Errorf("overlap must be in [0, %d), got %d", o.ChunkSize, o.Overlap)
	}
	return nil
}

// Split breaks text into chunks no longer than opts.ChunkSize, except when a
// single sentence is itself longer. Chunks at or below opts.MinChunkSize are
// dropped, and each new chunk starts with the tail of the previous one.
func Split(text string, opts Options) []string {
	var (
		chunks []string
		buf    strings.Builder
		tail   string
	)
	for _, sentence := range sentences(text) {
		if buf.Len()+len(sentence) > opts.ChunkSize {
			if buf.Len() > opts.MinChunkSize {
				closed := buf.String()
				chunks = append(chunks, strings.TrimSpace(closed))
				tail = suffix(closed, opts.Overlap)
			}
			buf.Reset()
			buf.WriteString(tail)
		}
		buf.WriteString(sentence)
	}
	if buf.Len() > opts.MinChunkSize {
		chunks = append(chunks, strings.TrimSpace(buf.String()))
	}
	return chunks
}

// sentences returns the punctuation-terminated units of text in order. Text
// after the last terminator is returned as a final unit.
func sentences(text string) []string {
	spans := sentencePattern.FindAllStringIndex(text, -1)
	if len(spans) == 0 {
		if text == "" {
			return nil
		}
		return []string{text}
	}
	units := make([]string, 0, len(spans)+1)
	for _, span := range spans {
		units = append(units, text[span[0]:span[1]])
	}
	if rest := text[spans[len(spans)-1][1]:]; strings.TrimSpace(rest) != "" {
		units = append(units, rest)
	}
	return units
}

// suffix returns at most n trailing bytes of s without splitting a rune.
func suffix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
