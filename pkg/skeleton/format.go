/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Michael Saigachenko
 */

package skeleton

import (
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/voedger/virel/pkg/idatastore"
)

// Display-format templates: literal text with $(selector.path) placeholders,
// e.g. «$(dest.lastname), $(dest.firstname) ($(rel.role))». Selectors resolve
// against the dest, rel and src snapshots, unknown paths render empty.

type formatAST struct {
	Parts []formatASTPart `parser:"@@*"`
}

type formatASTPart struct {
	Placeholder string `parser:"@Placeholder"`
	Text        string `parser:"| @(Text | Dollar)"`
}

var formatLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Placeholder", Pattern: `\$\([a-zA-Z_][a-zA-Z0-9_.]*\)`},
	{Name: "Text", Pattern: `[^$]+`},
	{Name: "Dollar", Pattern: `\$`},
})

var formatParser = participle.MustBuild[formatAST](
	participle.Lexer(formatLexer),
)

type formatTemplate struct {
	parts []formatPart
}

// formatPart is either literal text or a placeholder path, never both.
type formatPart struct {
	text string
	path string
}

// mustParseFormat compiles a format string, invalid ones are declaration
// errors and panic.
func mustParseFormat(format string) *formatTemplate {
	ast, err := formatParser.ParseString("", format)
	if err != nil {
		panic(fmt.Sprintf("format «%s»: %v", format, err))
	}
	t := &formatTemplate{}
	for _, part := range ast.Parts {
		if part.Placeholder != "" {
			path := strings.TrimSuffix(strings.TrimPrefix(part.Placeholder, "$("), ")")
			t.parts = append(t.parts, formatPart{path: path})
			continue
		}
		t.parts = append(t.parts, formatPart{text: part.Text})
	}
	return t
}

func (t *formatTemplate) render(lookup func(path string) (any, bool)) string {
	sb := strings.Builder{}
	for _, part := range t.parts {
		if part.path == "" {
			sb.WriteString(part.text)
			continue
		}
		if v, ok := lookup(part.path); ok && v != nil {
			sb.WriteString(formatScalar(v))
		}
	}
	return sb.String()
}

func formatScalar(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case time.Time:
		return value.Format(time.RFC3339)
	case *idatastore.Key:
		return value.Encode()
	case float64:
		// integral floats render without the trailing .0, the common case
		// for legacy JSON-decoded numbers
		if value == float64(int64(value)) {
			return fmt.Sprintf("%d", int64(value))
		}
	}
	return fmt.Sprint(v)
}
