package utils

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractFencedBlock returns the body of the first fenced code block in a model reply,
// preferring one tagged with lang. When the reply has no fence the trimmed text is returned
// unchanged.
func ExtractFencedBlock(reply, lang string) string {
	source := []byte(reply)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var first, tagged []byte
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		block, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		var body bytes.Buffer
		lines := block.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			body.Write(seg.Value(source))
		}

		if first == nil {
			first = body.Bytes()
		}
		if lang != "" && strings.EqualFold(string(block.Language(source)), lang) {
			tagged = body.Bytes()
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	switch {
	case tagged != nil:
		return strings.TrimSpace(string(tagged))
	case first != nil:
		return strings.TrimSpace(string(first))
	}
	return inlineFence(reply, lang)
}

// inlineFence handles fences that do not start a line, which the markdown parser ignores.
func inlineFence(reply, lang string) string {
	open := "```" + lang
	start := strings.Index(reply, open)
	if lang != "" && start < 0 {
		open = "```"
		start = strings.Index(reply, open)
	}
	if start < 0 {
		return strings.TrimSpace(reply)
	}
	rest := reply[start+len(open):]
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}
