package llm

import (
	"regexp"
	"strings"
)

var (
	jsonBlockPattern     = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	jsonObjectPattern    = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	codeBlockPattern     = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)[ \\t]*\\n(.*?)```")
)

// ExtractJSON pulls a JSON object out of a model response, tolerating
// markdown fences, line comments, and trailing commas.
func ExtractJSON(content string) string {
	raw := ""
	if m := jsonBlockPattern.FindStringSubmatch(content); len(m) > 1 {
		raw = m[1]
	} else if m := jsonObjectPattern.FindString(content); m != "" {
		raw = m
	}
	if raw == "" {
		return ""
	}
	return cleanJSON(raw)
}

func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, l := range lines {
		lines[i] = stripLineComment(l)
	}
	return trailingCommaPattern.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// stripLineComment removes a // comment outside string literals.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString, escaped := false, false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}

// CodeBlock is one fenced block of a response.
type CodeBlock struct {
	Lang string
	Body string
}

// CodeBlocks returns every fenced block in order.
func CodeBlocks(content string) []CodeBlock {
	var out []CodeBlock
	for _, m := range codeBlockPattern.FindAllStringSubmatch(content, -1) {
		out = append(out, CodeBlock{Lang: strings.ToLower(m[1]), Body: strings.TrimSpace(m[2])})
	}
	return out
}
