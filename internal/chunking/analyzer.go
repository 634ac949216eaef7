// Package chunking turns raw document text into a bounded hierarchy of
// retrieval chunks. The analyzer half (this file) is made of pure functions
// over rune positions; the segmenter half drives them into a lazy stream.
package chunking

import (
	"strings"
	"unicode"
)

// Section is a detected document region with its title and rune offsets into
// the source text.
type Section struct {
	Title   string
	Content string
	Start   int
	End     int
}

// Fragment is a contiguous span of source text. Offsets are rune positions.
type Fragment struct {
	Content string
	Start   int
	End     int
}

// Analyzer heuristics. Fragments shorter than minFragmentRunes merge with a
// neighbor; setext underlines must be at least as long as the title line.
const (
	minFragmentRunes  = 80
	maxHeaderLineLen  = 80
	equalBlockRunes   = 4000
	minHeadersForScan = 3
)

// previewMarkers are the cue words whose sentences survive into a document
// preview, in both French and English.
var previewMarkers = []string{"clé", "essentiel", "important", "key", "essential", "critique"}

// ExtractSections detects section boundaries in text and returns at most
// maxSections regions.
//
// Detection runs in three stages: structural header lines (hash markers and
// setext underlines), then blank-line separation when fewer than three
// headers exist, then equal-sized blocks when the text has no usable
// structure at all. Empty input yields an empty slice.
func ExtractSections(text string, maxSections int) []Section {
	if text == "" || maxSections <= 0 {
		return nil
	}

	runes := []rune(text)

	sections := sectionsFromHeaders(runes)
	if len(sections) < 2 {
		sections = sectionsFromBlankRuns(runes)
	}
	if len(sections) < 2 {
		sections = sectionsFromEqualBlocks(runes, maxSections)
	}

	if len(sections) > maxSections {
		sections = sections[:maxSections]
	}
	return sections
}

// sectionsFromHeaders finds hash-style and setext-style headers and slices
// the text at each of them. Fewer than three headers means the document is
// not reliably header-structured and the caller should fall back.
func sectionsFromHeaders(runes []rune) []Section {
	lines := splitLines(runes)

	type header struct {
		title string
		start int
	}
	var headers []header

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line.text)
		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(trimmed, "#") {
			title := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			headers = append(headers, header{title: title, start: line.start})
			continue
		}

		// Setext header: a short line underlined by a run of '=' or '-' at
		// least as long as the line itself.
		if len([]rune(trimmed)) < maxHeaderLineLen && i+1 < len(lines) {
			under := strings.TrimSpace(lines[i+1].text)
			if isUnderline(under) && len([]rune(under)) >= len([]rune(trimmed)) {
				headers = append(headers, header{title: trimmed, start: line.start})
				i++ // skip the underline
			}
		}
	}

	if len(headers) < minHeadersForScan {
		return nil
	}

	sections := make([]Section, 0, len(headers))
	for i, h := range headers {
		end := len(runes)
		if i+1 < len(headers) {
			end = headers[i+1].start
		}
		if end <= h.start {
			continue
		}
		sections = append(sections, Section{
			Title:   h.title,
			Content: string(runes[h.start:end]),
			Start:   h.start,
			End:     end,
		})
	}
	return sections
}

// sectionsFromBlankRuns splits the text at blank-line runs: two consecutive
// newlines, with optional horizontal whitespace between them, end a region.
func sectionsFromBlankRuns(runes []rune) []Section {
	lines := splitLines(runes)

	var sections []Section
	blockStart := -1

	flush := func(end int) {
		if blockStart < 0 || end <= blockStart {
			return
		}
		content := string(runes[blockStart:end])
		sections = append(sections, Section{
			Title:   firstLineTitle(content),
			Content: content,
			Start:   blockStart,
			End:     end,
		})
		blockStart = -1
	}

	for _, line := range lines {
		if strings.TrimSpace(line.text) == "" {
			flush(line.start)
			continue
		}
		if blockStart < 0 {
			blockStart = line.start
		}
	}
	flush(len(runes))

	if len(sections) < 2 {
		return nil
	}
	return sections
}

// sectionsFromEqualBlocks cuts the text into equal-sized blocks as a last
// resort, one block per ~4000 runes, capped by maxSections.
func sectionsFromEqualBlocks(runes []rune, maxSections int) []Section {
	total := len(runes)
	if total == 0 {
		return nil
	}

	count := (total + equalBlockRunes - 1) / equalBlockRunes
	if count < 1 {
		count = 1
	}
	if count > maxSections {
		count = maxSections
	}
	size := (total + count - 1) / count

	sections := make([]Section, 0, count)
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		content := string(runes[start:end])
		sections = append(sections, Section{
			Title:   firstLineTitle(content),
			Content: content,
			Start:   start,
			End:     end,
		})
	}
	return sections
}

// ExtractParagraphs splits text into paragraphs and returns at most
// maxParagraphs fragments with offsets translated by baseOffset.
//
// Blank-line separation is tried first; texts without blank lines split at
// sentence boundaries instead. Fragments shorter than 80 runes merge with
// their neighbor to keep the pieces coherent.
func ExtractParagraphs(text string, baseOffset, maxParagraphs int) []Fragment {
	if text == "" || maxParagraphs <= 0 {
		return nil
	}

	runes := []rune(text)

	pieces := splitOnBlankLines(runes)
	if len(pieces) < 2 {
		pieces = splitOnSentences(runes)
	}

	pieces = mergeSmallFragments(pieces)

	out := make([]Fragment, 0, len(pieces))
	for _, p := range pieces {
		start, end := trimSpan(runes, p.start, p.end)
		if end <= start {
			continue
		}
		out = append(out, Fragment{
			Content: string(runes[start:end]),
			Start:   baseOffset + start,
			End:     baseOffset + end,
		})
		if len(out) == maxParagraphs {
			break
		}
	}
	return out
}

// CreateSemanticChunks produces overlapping fragments whose length targets
// maxLength runes, breaking preferentially at sentence boundaries, then
// paragraph boundaries, then hard cuts. The effective overlap is minOverlap
// clamped to at most maxLength/4. At most maxChunks fragments are returned,
// with offsets translated by baseOffset.
func CreateSemanticChunks(text string, maxLength, minOverlap, baseOffset, maxChunks int) []Fragment {
	if text == "" || maxLength <= 0 || maxChunks <= 0 {
		return nil
	}

	runes := []rune(text)
	total := len(runes)

	overlap := minOverlap
	if overlap > maxLength/4 {
		overlap = maxLength / 4
	}
	if overlap < 0 {
		overlap = 0
	}

	var out []Fragment
	start := 0
	for start < total && len(out) < maxChunks {
		end := start + maxLength
		if end >= total {
			end = total
		} else {
			end = snapCut(runes, start, end, maxLength)
		}

		s, e := trimSpan(runes, start, end)
		if e > s {
			out = append(out, Fragment{
				Content: string(runes[s:e]),
				Start:   baseOffset + s,
				End:     baseOffset + e,
			})
		}

		if end >= total {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out
}

// snapCut finds the best cut position at or before end, preferring the last
// sentence boundary in the trailing half of the window, then the last
// paragraph boundary, then the hard position.
func snapCut(runes []rune, start, end, maxLength int) int {
	low := start + maxLength/2
	if low < start+1 {
		low = start + 1
	}

	for pos := end - 1; pos >= low; pos-- {
		if isSentenceBoundaryAt(runes, pos) {
			return pos + 1
		}
	}
	for pos := end - 1; pos >= low; pos-- {
		if runes[pos] != '\n' {
			continue
		}
		// A paragraph boundary: this newline closes a blank line.
		k := pos - 1
		for k >= 0 && (runes[k] == ' ' || runes[k] == '\t') {
			k--
		}
		if k >= 0 && runes[k] == '\n' {
			return pos + 1
		}
	}
	return end
}

// IsSentenceBoundary reports whether the rune at pos terminates a sentence:
// it must be '.', '!' or '?' followed by whitespace or end of text. The
// position is a rune index.
func IsSentenceBoundary(text string, pos int) bool {
	return isSentenceBoundaryAt([]rune(text), pos)
}

func isSentenceBoundaryAt(runes []rune, pos int) bool {
	if pos < 0 || pos >= len(runes) {
		return false
	}
	switch runes[pos] {
	case '.', '!', '?':
	default:
		return false
	}
	if pos+1 == len(runes) {
		return true
	}
	return unicode.IsSpace(runes[pos+1])
}

// FindParagraphBoundaries returns the ordered rune positions of paragraph
// separators: a newline followed by optional spaces or tabs and another
// newline. The reported position is the first newline of each separator.
func FindParagraphBoundaries(text string) []int {
	runes := []rune(text)

	var out []int
	for i := 0; i < len(runes); i++ {
		if runes[i] != '\n' {
			continue
		}
		j := i + 1
		for j < len(runes) && (runes[j] == ' ' || runes[j] == '\t') {
			j++
		}
		if j < len(runes) && runes[j] == '\n' {
			out = append(out, i)
			i = j
		}
	}
	return out
}

// MeaningfulPreview condenses text into at most maxLength runes by keeping
// the head, up to two sentences carrying a cue word ("clé", "essentiel",
// "important", ...), and the tail.
func MeaningfulPreview(text string, maxLength int) string {
	if text == "" || maxLength <= 0 {
		return ""
	}

	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}

	headLen := maxLength / 3
	tailLen := maxLength / 4

	head := strings.TrimSpace(string(runes[:headLen]))
	tail := strings.TrimSpace(string(runes[len(runes)-tailLen:]))

	var marked []string
	for _, sent := range sentenceSpans(runes) {
		if sent.start < headLen || sent.end > len(runes)-tailLen {
			continue
		}
		s := string(runes[sent.start:sent.end])
		if containsMarker(s) {
			marked = append(marked, strings.TrimSpace(s))
			if len(marked) == 2 {
				break
			}
		}
	}

	parts := append([]string{head}, marked...)
	parts = append(parts, tail)
	preview := strings.Join(parts, " [...] ")

	previewRunes := []rune(preview)
	if len(previewRunes) > maxLength {
		preview = string(previewRunes[:maxLength])
	}
	return preview
}

func containsMarker(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, marker := range previewMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ---- span helpers ----

type span struct {
	start int
	end   int
}

type lineSpan struct {
	text  string
	start int
	end   int // offset just past the trailing newline
}

// splitLines cuts runes into lines, keeping rune offsets. The end offset
// points past the line's newline so consecutive lines tile the text.
func splitLines(runes []rune) []lineSpan {
	var lines []lineSpan
	start := 0
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\n' {
			lines = append(lines, lineSpan{text: string(runes[start:i]), start: start, end: i + 1})
			start = i + 1
		}
	}
	if start < len(runes) {
		lines = append(lines, lineSpan{text: string(runes[start:]), start: start, end: len(runes)})
	}
	return lines
}

// splitOnBlankLines cuts runes into blocks separated by at least one blank
// line.
func splitOnBlankLines(runes []rune) []span {
	var out []span
	start := 0
	i := 0
	for i < len(runes) {
		if runes[i] != '\n' {
			i++
			continue
		}
		j := i + 1
		for j < len(runes) && (runes[j] == ' ' || runes[j] == '\t') {
			j++
		}
		if j < len(runes) && runes[j] == '\n' {
			if i > start {
				out = append(out, span{start: start, end: i})
			}
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			start = j
			i = j
			continue
		}
		i++
	}
	if start < len(runes) {
		out = append(out, span{start: start, end: len(runes)})
	}
	return out
}

// splitOnSentences cuts runes at sentence boundaries.
func splitOnSentences(runes []rune) []span {
	spans := sentenceSpans(runes)
	if len(spans) == 0 && len(runes) > 0 {
		return []span{{start: 0, end: len(runes)}}
	}
	return spans
}

// sentenceSpans returns the spans of individual sentences.
func sentenceSpans(runes []rune) []span {
	var out []span
	start := 0
	for i := 0; i < len(runes); i++ {
		if isSentenceBoundaryAt(runes, i) {
			out = append(out, span{start: start, end: i + 1})
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			start = j
			i = j - 1
		}
	}
	if start < len(runes) {
		out = append(out, span{start: start, end: len(runes)})
	}
	return out
}

// mergeSmallFragments joins fragments shorter than minFragmentRunes into the
// preceding fragment so tiny splinters do not become chunks of their own.
func mergeSmallFragments(pieces []span) []span {
	if len(pieces) < 2 {
		return pieces
	}

	out := make([]span, 0, len(pieces))
	for _, p := range pieces {
		if len(out) > 0 {
			last := &out[len(out)-1]
			if last.end-last.start < minFragmentRunes || p.end-p.start < minFragmentRunes {
				last.end = p.end
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// trimSpan shrinks [start, end) past surrounding whitespace.
func trimSpan(runes []rune, start, end int) (int, int) {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	return start, end
}

// firstLineTitle derives a title from a block's first non-empty line.
func firstLineTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		title := []rune(strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
		if len(title) > maxHeaderLineLen {
			title = title[:maxHeaderLineLen]
		}
		return string(title)
	}
	return ""
}

// isUnderline reports whether a line is a non-empty run of '=' or '-' only.
func isUnderline(line string) bool {
	if line == "" {
		return false
	}
	first := rune(line[0])
	if first != '=' && first != '-' {
		return false
	}
	for _, r := range line {
		if r != first {
			return false
		}
	}
	return true
}
