package flows

import (
	"strings"
)

// Section is one named block of a prompt.
type Section struct {
	Title string
	Body  string
}

// Builder assembles a prompt from an instruction preamble followed by an
// ordered list of optional sections. A section whose body is blank is left
// out entirely. Rendering is deterministic.
type Builder struct {
	preamble string
	sections []Section
}

// NewBuilder starts a prompt with the given instructions.
func NewBuilder(preamble string) *Builder {
	return &Builder{preamble: strings.TrimSpace(preamble)}
}

// Section appends a titled block when body is non-blank.
func (b *Builder) Section(title, body string) *Builder {
	if strings.TrimSpace(body) == "" {
		return b
	}
	b.sections = append(b.sections, Section{Title: title, Body: strings.TrimSpace(body)})
	return b
}

// List appends a titled bullet list when items is non-empty.
func (b *Builder) List(title string, items []string) *Builder {
	var lines []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			lines = append(lines, "- "+item)
		}
	}
	return b.Section(title, strings.Join(lines, "\n"))
}

// Sections returns the titles of the sections that will be rendered.
func (b *Builder) Sections() []string {
	titles := make([]string, len(b.sections))
	for i, s := range b.sections {
		titles[i] = s.Title
	}
	return titles
}

// String renders the prompt.
func (b *Builder) String() string {
	var sb strings.Builder
	sb.WriteString(b.preamble)
	for _, s := range b.sections {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("### ")
		sb.WriteString(s.Title)
		sb.WriteString("\n")
		sb.WriteString(s.Body)
	}
	return sb.String()
}
