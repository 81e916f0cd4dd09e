// Package chunk splits raw document text into ordered, size-bounded,
// overlapping chunks ready for embedding.
//
// Lengths are measured in runes. Paragraphs (separated by blank lines) are
// packed greedily up to MaxChars; a paragraph longer than MaxChars is cut
// into overlapping fixed-size slices. Every chunk after the first then
// receives the tail of its predecessor as a prefix, except between slices
// of one paragraph, which already overlap.
package chunk

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/secondbrain/brain/engine/domain"
)

const (
	// DefaultMaxChars is the packing limit for a chunk.
	DefaultMaxChars = 1200
	// DefaultOverlapChars is the number of runes shared by adjacent chunks.
	DefaultOverlapChars = 200

	paragraphSep = "\n\n"
	overlapSep   = "\n"
)

var blankLines = regexp.MustCompile(`\n{2,}`)

// Options controls chunk sizing.
type Options struct {
	MaxChars     int
	OverlapChars int
}

// DefaultOptions returns the standard 1200/200 configuration.
func DefaultOptions() Options {
	return Options{MaxChars: DefaultMaxChars, OverlapChars: DefaultOverlapChars}
}

// Validate rejects options the algorithm cannot honour.
func (o Options) Validate() error {
	switch {
	case o.MaxChars <= 0:
		return domain.NewValidationError("max_chars", strconv.Itoa(o.MaxChars), domain.ErrBadChunking)
	case o.OverlapChars < 0:
		return domain.NewValidationError("overlap_chars", strconv.Itoa(o.OverlapChars), domain.ErrBadChunking)
	case o.OverlapChars >= o.MaxChars:
		return domain.NewValidationError("overlap_chars", strconv.Itoa(o.OverlapChars), domain.ErrBadChunking)
	}
	return nil
}

// piece is a chunk before the overlap pass. cont marks a hard-split slice
// that continues the previous piece's paragraph.
type piece struct {
	text string
	cont bool
}

// Split chunks text. Text with no content yields an empty, non-nil slice.
func Split(text string, opts Options) ([]domain.Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	pieces := pack(paragraphs(text), opts)
	return withOverlap(pieces, opts.OverlapChars), nil
}

func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range blankLines.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func pack(paras []string, opts Options) []piece {
	var (
		pieces []piece
		buf    strings.Builder
		bufLen int
	)
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			pieces = append(pieces, piece{text: s})
		}
		buf.Reset()
		bufLen = 0
	}

	for _, p := range paras {
		n := len([]rune(p))
		if n > opts.MaxChars {
			flush()
			pieces = append(pieces, hardSplit(p, opts)...)
			continue
		}
		if bufLen > 0 && bufLen+len(paragraphSep)+n > opts.MaxChars {
			flush()
		}
		if bufLen > 0 {
			buf.WriteString(paragraphSep)
			bufLen += len(paragraphSep)
		}
		buf.WriteString(p)
		bufLen += n
	}
	flush()
	return pieces
}

// hardSplit cuts one oversized paragraph into MaxChars slices whose starts
// advance by MaxChars-OverlapChars. The last slice ends at the paragraph end.
func hardSplit(p string, opts Options) []piece {
	runes := []rune(p)
	step := opts.MaxChars - opts.OverlapChars
	if step <= 0 {
		step = opts.MaxChars
	}

	var out []piece
	prevKept := false
	for start := 0; ; start += step {
		end := min(start+opts.MaxChars, len(runes))
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, piece{text: s, cont: prevKept})
			prevKept = true
		} else {
			prevKept = false
		}
		if end == len(runes) {
			return out
		}
	}
}

func withOverlap(pieces []piece, overlap int) []domain.Chunk {
	chunks := make([]domain.Chunk, 0, len(pieces))
	for i, pc := range pieces {
		content := pc.text
		if i > 0 && overlap > 0 && !pc.cont {
			content = strings.TrimSpace(tail(pieces[i-1].text, overlap) + overlapSep + content)
		}
		chunks = append(chunks, domain.Chunk{Index: i, Content: content})
	}
	return chunks
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
