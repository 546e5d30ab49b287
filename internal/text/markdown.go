package text

import (
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Section is one heading-delimited region of a markdown document.
type Section struct {
	Title string
	Level int
	Body  string
}

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)
	fenceRe   = regexp.MustCompile("^\\s*```")
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
)

// ExtractFrontMatter splits a leading YAML front matter block from markdown
// content. Returns the parsed metadata (nil when absent or malformed) and the
// remaining content. Malformed YAML is treated as no front matter rather than
// an error; the block is still stripped so it never ends up in a chunk.
func ExtractFrontMatter(content string) (map[string]any, string) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, content
	}

	end := strings.Index(content[4:], "\n---")
	if end == -1 {
		return nil, content
	}
	end += 4

	rest := content[end+len("\n---"):]
	rest = strings.TrimPrefix(rest, "\n")

	var meta map[string]any
	if err := yaml.Unmarshal([]byte(content[4:end]), &meta); err != nil {
		return nil, strings.TrimLeft(rest, "\n")
	}
	return meta, strings.TrimLeft(rest, "\n")
}

// StripComments removes HTML comment blocks outside code fences. Comments
// inside fences are left untouched so code examples survive verbatim.
func StripComments(content string) string {
	var out []string
	inFence := false
	var buf []string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		cleaned := commentRe.ReplaceAllString(strings.Join(buf, "\n"), "")
		out = append(out, cleaned)
		buf = buf[:0]
	}

	for _, line := range strings.Split(content, "\n") {
		if fenceRe.MatchString(line) {
			if !inFence {
				flush()
			}
			inFence = !inFence
			out = append(out, line)
			continue
		}
		if inFence {
			out = append(out, line)
		} else {
			buf = append(buf, line)
		}
	}
	flush()
	return strings.Join(out, "\n")
}

// SplitSections divides markdown into heading-delimited sections. Heading
// markers inside code fences are not boundaries. Content before the first
// heading becomes an untitled level-0 section.
func SplitSections(content string) []Section {
	lines := strings.Split(content, "\n")

	var sections []Section
	current := Section{Title: "", Level: 0}
	var body []string
	inFence := false

	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if text != "" || current.Title != "" {
			current.Body = text
			sections = append(sections, current)
		}
		body = body[:0]
	}

	for _, line := range lines {
		if fenceRe.MatchString(line) {
			inFence = !inFence
			body = append(body, line)
			continue
		}
		if !inFence {
			if m := headingRe.FindStringSubmatch(line); m != nil {
				flush()
				current = Section{Title: m[2], Level: len(m[1])}
				continue
			}
		}
		body = append(body, line)
	}
	flush()

	return sections
}

// SplitBody breaks a section body into pieces no longer than maxChars,
// preferring paragraph boundaries. Code fences are atomic blocks: they are
// never merged mid-fence with prose, and an oversized fence is split by line
// with the fence markers re-applied so the code itself stays verbatim.
func SplitBody(body string, maxChars int) []string {
	if body == "" {
		return nil
	}
	if len(body) <= maxChars {
		return []string{body}
	}

	var pieces []string
	var buf strings.Builder

	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			pieces = append(pieces, s)
		}
		buf.Reset()
	}

	for _, block := range splitBlocks(body) {
		if buf.Len() > 0 && buf.Len()+len(block)+2 > maxChars {
			flush()
		}

		if len(block) > maxChars {
			flush()
			if strings.HasPrefix(strings.TrimSpace(block), "```") {
				pieces = append(pieces, splitFence(block, maxChars)...)
			} else {
				pieces = append(pieces, splitProse(block, maxChars)...)
			}
			continue
		}

		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(block)
	}
	flush()

	return pieces
}

// splitBlocks yields paragraphs and whole code fences in document order.
func splitBlocks(body string) []string {
	var blocks []string
	var buf []string
	inFence := false

	flushProse := func() {
		joined := strings.Join(buf, "\n")
		for _, para := range strings.Split(joined, "\n\n") {
			if p := strings.TrimSpace(para); p != "" {
				blocks = append(blocks, p)
			}
		}
		buf = buf[:0]
	}

	var fence []string
	for _, line := range strings.Split(body, "\n") {
		if fenceRe.MatchString(line) {
			if !inFence {
				flushProse()
				fence = []string{line}
			} else {
				fence = append(fence, line)
				blocks = append(blocks, strings.Join(fence, "\n"))
				fence = nil
			}
			inFence = !inFence
			continue
		}
		if inFence {
			fence = append(fence, line)
		} else {
			buf = append(buf, line)
		}
	}
	if inFence {
		// Unterminated fence: keep what we have as a single block.
		blocks = append(blocks, strings.Join(fence, "\n"))
	}
	flushProse()

	return blocks
}

// splitFence splits an oversized fenced code block by line, re-applying the
// opening fence (with its language tag) and a closing fence to each piece.
func splitFence(block string, maxChars int) []string {
	lines := strings.Split(block, "\n")
	open := lines[0]
	body := lines[1:]
	if len(body) > 0 && fenceRe.MatchString(body[len(body)-1]) {
		body = body[:len(body)-1]
	}

	overhead := len(open) + len("\n\n```")
	budget := maxChars - overhead
	if budget < 1 {
		budget = 1
	}

	var pieces []string
	var buf []string
	size := 0
	flush := func() {
		if len(buf) == 0 {
			return
		}
		pieces = append(pieces, open+"\n"+strings.Join(buf, "\n")+"\n```")
		buf = buf[:0]
		size = 0
	}

	for _, line := range body {
		if size > 0 && size+len(line)+1 > budget {
			flush()
		}
		buf = append(buf, line)
		size += len(line) + 1
	}
	flush()

	return pieces
}

// splitProse splits an oversized paragraph by line, then by word as a last
// resort.
func splitProse(block string, maxChars int) []string {
	var pieces []string
	var buf strings.Builder

	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			pieces = append(pieces, s)
		}
		buf.Reset()
	}

	appendUnit := func(unit, sep string) {
		if buf.Len() > 0 && buf.Len()+len(unit)+len(sep) > maxChars {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString(sep)
		}
		buf.WriteString(unit)
	}

	for _, line := range strings.Split(block, "\n") {
		if len(line) <= maxChars {
			appendUnit(line, "\n")
			continue
		}
		for _, word := range strings.Fields(line) {
			appendUnit(word, " ")
		}
	}
	flush()

	return pieces
}
