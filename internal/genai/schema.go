package genai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/teecode611-cmyk/studio/internal/flows"
)

var reflector = jsonschema.Reflector{
	AllowAdditionalProperties: false,
	DoNotReference:            true,
}

// SchemaFor reflects the JSON schema of T.
func SchemaFor[T any]() *jsonschema.Schema {
	var v T
	return reflector.Reflect(v)
}

// schemaMap converts a schema into the generic map form tool definitions use.
func schemaMap(s *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}

// FlowInfo describes a flow's contracts for clients.
type FlowInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Input       *jsonschema.Schema `json:"input"`
	Output      *jsonschema.Schema `json:"output"`
}

// Describe returns the contracts of flow.
func Describe[I, O any](flow flows.Flow[I, O]) FlowInfo {
	return FlowInfo{
		Name:        flow.Name,
		Description: flow.Description,
		Input:       SchemaFor[I](),
		Output:      SchemaFor[O](),
	}
}

// Catalog describes every tutoring flow.
func Catalog() []FlowInfo {
	return []FlowInfo{
		Describe(flows.StartSession),
		Describe(flows.ContinueSession),
		Describe(flows.GetHint),
		Describe(flows.Summarize),
		Describe(flows.Transcribe),
	}
}

var jsonCodeBlockRegex = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// ExtractJSON pulls the first JSON object out of free-form model text,
// unwrapping markdown code fences.
func ExtractJSON(s string) string {
	if matches := jsonCodeBlockRegex.FindStringSubmatch(s); len(matches) > 1 {
		s = matches[1]
	}
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	if start == -1 {
		return s
	}
	if end := matchingBrace(s, start); end != -1 {
		return s[start : end+1]
	}
	return s
}

// matchingBrace finds the '}' closing the '{' at start, skipping string
// literals and escapes. It returns -1 when the object is unterminated.
func matchingBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
