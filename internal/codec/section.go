package codec

import (
	"regexp"
	"strings"
)

// headerRegex matches a section header line. Names are plain identifiers,
// so a JSON array standing alone on a line is never mistaken for one.
var headerRegex = regexp.MustCompile(`^\[([A-Za-z][A-Za-z0-9_]*)\]$`)

// Blocks is the raw body text of each section, in the order first seen.
type Blocks struct {
	order []string
	body  map[string]string
}

// NewBlocks returns an empty set.
func NewBlocks() *Blocks {
	return &Blocks{body: make(map[string]string)}
}

// Set stores the body for name. A repeated name keeps its first position
// and takes the later body.
func (b *Blocks) Set(name, body string) {
	if _, ok := b.body[name]; !ok {
		b.order = append(b.order, name)
	}
	b.body[name] = body
}

// Get returns the body for name.
func (b *Blocks) Get(name string) (string, bool) {
	body, ok := b.body[name]
	return body, ok
}

// Names returns section names in first-seen order.
func (b *Blocks) Names() []string {
	return append([]string(nil), b.order...)
}

// Len returns the number of sections.
func (b *Blocks) Len() int {
	return len(b.order)
}

// ParseSections splits file text into section blocks. Known section names
// are canonicalised through the registry; unknown ones are kept as written.
// Text before the first header is ignored. A header-looking line inside an
// open quoted cell is cell data. If a quote is still open at the end of the
// text, the cell was malformed and the text is split again with quotes
// ignored, so one bad cell cannot swallow the sections after it.
func (c *Codec) ParseSections(text string) *Blocks {
	text = strings.TrimPrefix(text, "\uFEFF")

	blocks, open := c.splitSections(text, true)
	if open {
		c.log.Warn("unterminated quoted cell in data file, splitting sections without quote tracking")
		blocks, _ = c.splitSections(text, false)
	}
	return blocks
}

// splitSections does one pass over text. It reports whether a quoted cell
// was still open at the end.
func (c *Codec) splitSections(text string, trackQuotes bool) (*Blocks, bool) {
	blocks := NewBlocks()

	var (
		current string
		lines   []string
		active  bool
		open    bool
	)
	flush := func() {
		if active {
			blocks.Set(current, strings.Join(trimTrailingBlank(lines), "\n"))
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")

		if !open {
			if m := headerRegex.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				flush()
				current = m[1]
				if canonical, known := c.reg.Canonical(m[1]); known {
					current = canonical
				}
				lines = nil
				active = true
				continue
			}
		}

		if active {
			lines = append(lines, line)
			if trackQuotes && strings.Count(line, `"`)%2 == 1 {
				open = !open
			}
		}
	}
	flush()

	return blocks, open
}

// SerializeSections writes blocks back to text: every registry section in
// canonical order, then any unknown sections in the order they were read.
// A registry section missing from blocks is written as an empty block.
func (c *Codec) SerializeSections(blocks *Blocks) string {
	var sb strings.Builder
	known := make(map[string]bool)

	for _, sec := range c.reg.Sections() {
		known[sec.Name] = true
		body, ok := blocks.Get(sec.Name)
		if !ok {
			body = emptyBody(sec.IsList(), sec.Header())
		}
		writeBlock(&sb, sec.Name, body)
	}

	for _, name := range blocks.Names() {
		if known[name] {
			continue
		}
		body, _ := blocks.Get(name)
		writeBlock(&sb, name, body)
	}

	return sb.String()
}

func writeBlock(sb *strings.Builder, name, body string) {
	sb.WriteString("[")
	sb.WriteString(name)
	sb.WriteString("]\n")
	sb.WriteString(body)
	sb.WriteString("\n\n")
}

func emptyBody(isList bool, header []string) string {
	if !isList {
		return mapHeader
	}
	return strings.Join(header, ",")
}

func trimTrailingBlank(lines []string) []string {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[:end]
}
