// Package search compiles the restricted query language into parameterized
// SQL and executes request batches against the store.
package search

import (
	"fmt"
	"strings"

	"github.com/driftboard/contentdb/internal/cerrors"
)

// FieldConverter maps a bare field token onto the SQL fragment that may
// reference it in a WHERE clause. It rejects unknown or unsearchable fields.
type FieldConverter func(field string) (string, error)

// ValueConverter maps an @name token (without the @) onto a parameter
// reference. It rejects names with no backing value.
type ValueConverter func(name string) (string, error)

// MacroResolver expands a !name(args...) invocation into a SQL fragment.
type MacroResolver func(name string, args []string) (string, error)

// ParserConfig supplies the schema-aware callbacks the parser itself lacks.
type ParserConfig struct {
	Field FieldConverter
	Value ValueConverter
	Macro MacroResolver
}

const opParse = "search.parse"

func parseErr(format string, args ...any) error {
	return cerrors.Newf(cerrors.CategoryArgument, opParse, format, args...)
}

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenIdent
	tokenValue
	tokenOp
	tokenMacro
	tokenLParen
	tokenRParen
	tokenComma
)

type token struct {
	kind tokenType
	text string
}

func isIdentStart(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

func tokenize(query string) ([]token, error) {
	tokens := []token{}
	i := 0
	for i < len(query) {
		ch := query[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			i++
		case ch == '(':
			tokens = append(tokens, token{tokenLParen, "("})
			i++
		case ch == ')':
			tokens = append(tokens, token{tokenRParen, ")"})
			i++
		case ch == ',':
			tokens = append(tokens, token{tokenComma, ","})
			i++
		case ch == '@':
			start := i + 1
			j := start
			for j < len(query) && (isIdentPart(query[j]) || query[j] == '.') {
				j++
			}
			if j == start {
				return nil, parseErr("empty value reference at position %d", i)
			}
			tokens = append(tokens, token{tokenValue, query[start:j]})
			i = j
		case ch == '!':
			start := i + 1
			j := start
			for j < len(query) && isIdentPart(query[j]) {
				j++
			}
			if j == start {
				return nil, parseErr("empty macro name at position %d", i)
			}
			tokens = append(tokens, token{tokenMacro, query[start:j]})
			i = j
		case ch == '<':
			if i+1 < len(query) && query[i+1] == '=' {
				tokens = append(tokens, token{tokenOp, "<="})
				i += 2
			} else if i+1 < len(query) && query[i+1] == '>' {
				tokens = append(tokens, token{tokenOp, "<>"})
				i += 2
			} else {
				tokens = append(tokens, token{tokenOp, "<"})
				i++
			}
		case ch == '>':
			if i+1 < len(query) && query[i+1] == '=' {
				tokens = append(tokens, token{tokenOp, ">="})
				i += 2
			} else {
				tokens = append(tokens, token{tokenOp, ">"})
				i++
			}
		case ch == '=':
			tokens = append(tokens, token{tokenOp, "="})
			i++
		case isIdentStart(ch):
			j := i
			for j < len(query) && isIdentPart(query[j]) {
				j++
			}
			tokens = append(tokens, token{tokenIdent, query[i:j]})
			i = j
		default:
			// Literals never reach the grammar; this is the injection guard.
			return nil, parseErr("unexpected character %q at position %d (literal values must use the {{...}} escape)", string(ch), i)
		}
	}
	tokens = append(tokens, token{tokenEOF, ""})
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
	cfg    ParserConfig
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func keywordIs(tok token, word string) bool {
	return tok.kind == tokenIdent && strings.EqualFold(tok.text, word)
}

// ParseQuery compiles a query string into a WHERE fragment. The empty query
// parses to the empty fragment. Converter callbacks may fail with their own
// semantic errors; panics inside them are wrapped so a grammar bug and a
// hostile query are indistinguishable to the caller.
func ParseQuery(query string, cfg ParserConfig) (result string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = parseErr("query evaluation failed: %v", recovered)
		}
	}()

	if strings.TrimSpace(query) == "" {
		return "", nil
	}

	tokens, err := tokenize(query)
	if err != nil {
		return "", err
	}

	p := &parser{tokens: tokens, cfg: cfg}
	fragment, err := p.parseExpr()
	if err != nil {
		return "", err
	}
	if p.peek().kind != tokenEOF {
		return "", parseErr("unexpected trailing token %q", p.peek().text)
	}
	return fragment, nil
}

func (p *parser) parseExpr() (string, error) {
	var sb strings.Builder
	part, err := p.parseTerm()
	if err != nil {
		return "", err
	}
	sb.WriteString(part)

	for {
		tok := p.peek()
		// A connective keyword is only a keyword in connective position;
		// fields that merely start with "and" or "or" lex as single
		// identifier tokens and never reach this branch.
		if keywordIs(tok, "and") || keywordIs(tok, "or") {
			p.next()
			part, err := p.parseTerm()
			if err != nil {
				return "", err
			}
			sb.WriteString(" ")
			sb.WriteString(strings.ToUpper(tok.text))
			sb.WriteString(" ")
			sb.WriteString(part)
			continue
		}
		return sb.String(), nil
	}
}

func (p *parser) parseTerm() (string, error) {
	tok := p.next()
	switch tok.kind {
	case tokenLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return "", err
		}
		if closing := p.next(); closing.kind != tokenRParen {
			return "", parseErr("expected closing parenthesis, got %q", closing.text)
		}
		return "(" + inner + ")", nil
	case tokenMacro:
		return p.parseMacro(tok.text)
	case tokenIdent:
		return p.parseFilter(tok.text)
	case tokenEOF:
		return "", parseErr("unexpected end of query")
	default:
		return "", parseErr("unexpected token %q", tok.text)
	}
}

func (p *parser) parseFilter(field string) (string, error) {
	op, err := p.parseOperator()
	if err != nil {
		return "", err
	}

	valueTok := p.next()
	if valueTok.kind != tokenValue {
		if valueTok.kind == tokenEOF {
			return "", parseErr("expected value reference after %q %s", field, op)
		}
		return "", parseErr("expected @value reference after %q %s, got %q", field, op, valueTok.text)
	}

	fieldSQL, err := p.cfg.Field(field)
	if err != nil {
		return "", err
	}
	valueSQL, err := p.cfg.Value(valueTok.text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %s %s", fieldSQL, op, valueSQL), nil
}

func (p *parser) parseOperator() (string, error) {
	tok := p.next()
	switch {
	case tok.kind == tokenOp:
		return tok.text, nil
	case keywordIs(tok, "in"):
		return "IN", nil
	case keywordIs(tok, "like"):
		return "LIKE", nil
	case keywordIs(tok, "not"):
		follow := p.next()
		if keywordIs(follow, "in") {
			return "NOT IN", nil
		}
		if keywordIs(follow, "like") {
			return "NOT LIKE", nil
		}
		return "", parseErr("expected IN or LIKE after NOT, got %q", follow.text)
	default:
		return "", parseErr("expected operator, got %q", tok.text)
	}
}

func (p *parser) parseMacro(name string) (string, error) {
	if open := p.next(); open.kind != tokenLParen {
		return "", parseErr("expected ( after macro %q", name)
	}

	args := []string{}
	if p.peek().kind != tokenRParen {
		for {
			argTok := p.next()
			switch argTok.kind {
			case tokenIdent:
				args = append(args, argTok.text)
			case tokenValue:
				args = append(args, "@"+argTok.text)
			default:
				return "", parseErr("invalid macro argument %q for %q", argTok.text, name)
			}
			if p.peek().kind == tokenComma {
				p.next()
				continue
			}
			break
		}
	}
	if closing := p.next(); closing.kind != tokenRParen {
		return "", parseErr("expected closing parenthesis for macro %q, got %q", name, closing.text)
	}

	return p.cfg.Macro(name, args)
}
