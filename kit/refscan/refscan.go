// Package refscan finds which of a set of fingerprint tokens occur in a file.
//
// Script files are tokenized and only string, template and comment tokens are
// searched, so a short fingerprint that happens to equal a minified
// identifier is not reported. Everything else is searched byte-wise.
package refscan

import (
	"bytes"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/js"
)

var scriptExts = []string{".js", ".mjs", ".cjs"}

// IsScript reports whether name is tokenized as JavaScript.
func IsScript(name string) bool {
	return slices.Contains(scriptExts, strings.ToLower(path.Ext(name)))
}

// Find returns the tokens, in input order and without duplicates, that occur
// in content. Empty tokens are ignored.
func Find(name string, content []byte, tokens []string) []string {
	wanted := dedupe(tokens)
	if len(wanted) == 0 {
		return nil
	}
	if IsScript(name) {
		if found, ok := findInScript(content, wanted); ok {
			return found
		}
	}
	return findPlain(content, wanted)
}

func findPlain(content []byte, tokens []string) []string {
	var found []string
	for _, tok := range tokens {
		if bytes.Contains(content, []byte(tok)) {
			found = append(found, tok)
		}
	}
	return found
}

// findInScript returns ok=false when the lexer gives up, in which case the
// caller falls back to a plain search.
func findInScript(content []byte, tokens []string) ([]string, bool) {
	// the input may be extended with a NUL terminator, so never hand the
	// lexer a slice that someone else owns
	l := js.NewLexer(parse.NewInputBytes(bytes.Clone(content)))

	hit := make([]bool, len(tokens))
	remaining := len(tokens)
	prev := js.ErrorToken

	for remaining > 0 {
		tt, data := l.Next()
		if (tt == js.DivToken || tt == js.DivEqToken) && regexpAllowedAfter(prev) {
			tt, data = l.RegExp()
		}

		switch tt {
		case js.ErrorToken:
			if l.Err() != io.EOF {
				return nil, false
			}
			return collect(tokens, hit), true
		case js.WhitespaceToken, js.LineTerminatorToken:
			continue
		case js.StringToken, js.TemplateToken, js.TemplateStartToken,
			js.TemplateMiddleToken, js.TemplateEndToken, js.RegExpToken,
			js.CommentToken, js.CommentLineTerminatorToken:
			for i, tok := range tokens {
				if !hit[i] && bytes.Contains(data, []byte(tok)) {
					hit[i] = true
					remaining--
				}
			}
		}

		if tt != js.CommentToken && tt != js.CommentLineTerminatorToken {
			prev = tt
		}
	}
	return collect(tokens, hit), true
}

// regexpAllowedAfter approximates the parser's decision between division and
// a regular expression literal.
func regexpAllowedAfter(prev js.TokenType) bool {
	switch prev {
	case js.IdentifierToken, js.DecimalToken, js.StringToken,
		js.CloseParenToken, js.CloseBracketToken, js.CloseBraceToken,
		js.TemplateToken, js.TemplateEndToken, js.RegExpToken:
		return false
	}
	return true
}

func collect(tokens []string, hit []bool) []string {
	var found []string
	for i, tok := range tokens {
		if hit[i] {
			found = append(found, tok)
		}
	}
	return found
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
