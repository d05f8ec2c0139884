package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Blocks is a structured view of one agent turn's sectioned output.
type Blocks struct {
	Thoughts    string
	Plan        string
	Evidence    string
	FinalAnswer string
	Critique    string
	Decision    string
}

// headerPattern matches the start of a section header line: optional
// markdown bold or heading decoration followed by the header word.
// Case-insensitive. Whether the line actually is a header depends on what
// follows the word; see parseHeader.
var headerPattern = regexp.MustCompile(`(?i)^[#*\s]*(THOUGHTS?|PLAN|EVIDENCE|FINAL[ _]ANSWER|CRITIQUE|DECISION)\b[*]*(.*)$`)

// parseHeader decides whether a line is a section header. A header word
// followed by ':' or '-' carries optional inline content after the
// separator; a header word alone on its line opens a section with content
// on the following lines. A header word followed by other prose is body
// text, not a header.
func parseHeader(line string) (name, inline string, ok bool) {
	m := headerPattern.FindStringSubmatch(strings.TrimRight(line, " \t"))
	if m == nil {
		return "", "", false
	}
	rest := strings.TrimSpace(m[2])
	if rest == "" {
		return canonicalHeader(m[1]), "", true
	}
	if rest[0] == ':' || rest[0] == '-' {
		inline = strings.TrimSpace(strings.Trim(rest[1:], "* \t"))
		return canonicalHeader(m[1]), inline, true
	}
	return "", "", false
}

// ParseBlocks extracts the known sections from raw agent output. The
// parser is forgiving: headers match case-insensitively, the separator is
// optional, and bodies wrapped in markdown code fences are unwrapped.
// Content before the first header is treated as thoughts when no explicit
// THOUGHTS section exists.
func ParseBlocks(text string) Blocks {
	sections := map[string][]string{}
	current := ""
	var preamble []string

	for _, rawLine := range strings.Split(text, "\n") {
		if name, inline, ok := parseHeader(rawLine); ok {
			current = name
			if inline != "" {
				sections[current] = append(sections[current], inline)
			}
			continue
		}
		if current == "" {
			preamble = append(preamble, rawLine)
			continue
		}
		sections[current] = append(sections[current], rawLine)
	}

	b := Blocks{
		Thoughts:    sectionBody(sections, "thoughts"),
		Plan:        sectionBody(sections, "plan"),
		Evidence:    sectionBody(sections, "evidence"),
		FinalAnswer: sectionBody(sections, "final_answer"),
		Critique:    sectionBody(sections, "critique"),
		Decision:    sectionBody(sections, "decision"),
	}
	if b.Thoughts == "" {
		if p := strings.TrimSpace(strings.Join(preamble, "\n")); p != "" {
			b.Thoughts = p
		}
	}
	return b
}

func canonicalHeader(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.ReplaceAll(name, " ", "_")
	switch name {
	case "thought", "thoughts":
		return "thoughts"
	case "final_answer":
		return "final_answer"
	default:
		return name
	}
}

func sectionBody(sections map[string][]string, name string) string {
	lines, ok := sections[name]
	if !ok {
		return ""
	}
	return unwrapFences(strings.TrimSpace(strings.Join(lines, "\n")))
}

// unwrapFences strips one surrounding markdown code fence, including an
// optional language tag on the opening line.
func unwrapFences(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") {
		return s
	}
	body := strings.TrimPrefix(s, "```")
	body = strings.TrimSuffix(body, "```")
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		first := strings.TrimSpace(body[:i])
		if first == "" || !strings.ContainsAny(first, " \t") {
			body = body[i+1:]
		}
	} else {
		// Single-line fence: ```content``` has no language tag to drop.
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(body)
}

// ToolInvocation is a tool call the solver embedded in its output.
type ToolInvocation struct {
	Tool string
	Args map[string]any
}

// toolCallProbe accepts both the current and the legacy tool-call shapes.
type toolCallProbe struct {
	Tool      string          `json:"tool"`
	Args      map[string]any  `json:"args"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ExtractToolCall finds the first JSON tool-call object embedded in
// assistant text: {"tool": name, "args": {...}} or the legacy
// {"name": ..., "arguments": ...} where arguments may be an object or an
// encoded JSON string.
func ExtractToolCall(text string) (*ToolInvocation, bool) {
	for offset := 0; offset < len(text); offset++ {
		if text[offset] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[offset:]))
		var probe toolCallProbe
		if err := dec.Decode(&probe); err != nil {
			continue
		}
		if inv := probe.invocation(); inv != nil {
			return inv, true
		}
		// A decodable object without tool fields (e.g. example payloads)
		// is skipped past so a later tool call is still found.
		offset += int(dec.InputOffset()) - 1
	}
	return nil, false
}

func (p toolCallProbe) invocation() *ToolInvocation {
	if p.Tool != "" {
		return &ToolInvocation{Tool: p.Tool, Args: p.Args}
	}
	if p.Name == "" {
		return nil
	}
	inv := &ToolInvocation{Tool: p.Name}
	if len(p.Arguments) == 0 {
		return inv
	}
	if err := json.Unmarshal(p.Arguments, &inv.Args); err == nil {
		return inv
	}
	var encoded string
	if err := json.Unmarshal(p.Arguments, &encoded); err == nil {
		if err := json.Unmarshal([]byte(encoded), &inv.Args); err == nil {
			return inv
		}
	}
	return inv
}
