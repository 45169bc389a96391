package dsl

import (
	"fmt"
	"io"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	scoreLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Whitespace", Pattern: `[ \t\r]+`},
		{Name: "Newline", Pattern: `\n+`},
		{Name: "BlockComment", Pattern: `/\*[^*]*\*+(?:[^/*][^*]*\*+)*/`},
		{Name: "LineComment", Pattern: `(?://|#)[^\n]*`},
		// 数字可以带长度单位，如 10mm、0.5in
		{Name: "Number", Pattern: `(?:\d+\.\d+|\d+)(?:pt|mm|cm|in)?`},
		{Name: "String", Pattern: `"(?:\\.|[^"])*"`},
		{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_-]*`},
		{Name: "Punct", Pattern: `[,;:/.+\-]`},
		{Name: "LBrace", Pattern: `{`},
		{Name: "RBrace", Pattern: `}`},
	})

	tokenNames = func() map[lexer.TokenType]string {
		out := map[lexer.TokenType]string{}
		for name, tt := range scoreLexer.Symbols() {
			out[tt] = name
		}
		return out
	}()

	scoreParser = participle.MustBuild[Document](
		participle.Lexer(scoreLexer),
		participle.Unquote("String"),
		participle.Elide("Whitespace", "LineComment", "BlockComment"),
	)
)

// Document is the root of a score file:
//
//	score <name> <version> { sections... }
type Document struct {
	Pos      lexer.Position `parser:"" json:"-"`
	Name     string         `parser:"Newline* 'score' @Ident"`
	Version  string         `parser:"@Ident"`
	Sections []*Section     `parser:"'{' Newline* ( @@ Newline* )* '}' Newline*"`
}

// Section is exactly one of meta, page, timeline or track.
type Section struct {
	Meta     *MetaSection     `parser:"  @@"`
	Page     *PageSection     `parser:"| @@"`
	Timeline *TimelineSection `parser:"| @@"`
	Track    *TrackSection    `parser:"| @@"`
}

// Kind names the populated branch.
func (s *Section) Kind() string {
	switch {
	case s == nil:
		return "unknown"
	case s.Meta != nil:
		return "meta"
	case s.Page != nil:
		return "page"
	case s.Timeline != nil:
		return "timeline"
	case s.Track != nil:
		return "track"
	}
	return "unknown"
}

type MetaSection struct {
	Block *Block `parser:"'meta' @@"`
}

// PageSection: `page A4 landscape margin 10mm { header: "..." }`.
type PageSection struct {
	Size   string    `parser:"'page' @Ident"`
	Params []*Lexeme `parser:"@@*"`
	Block  *Block    `parser:"@@?"`
}

type TimelineSection struct {
	Pos   lexer.Position `parser:"" json:"-"`
	Block *Block         `parser:"'timeline' @@"`
}

// TrackSection is one printed part; Params carries id, view and tuning.
type TrackSection struct {
	Pos    lexer.Position `parser:"" json:"-"`
	Name   string         `parser:"'track' @(Ident | String)"`
	Params []*Lexeme      `parser:"@@*"`
	Block  *Block         `parser:"@@"`
}

// Block 是花括号内的语句列表，语句之间用换行或分号分隔。
type Block struct {
	Statements []*Statement `parser:"'{' Newline* ( @@ ( ';' | Newline )* )* '}'"`
}

type Statement struct {
	Assignment *Assignment `parser:"  @@"`
	Command    *Command    `parser:"| @@"`
}

// Assignment is `key: value`.
type Assignment struct {
	Key   string `parser:"@Ident ':'"`
	Value *Value `parser:"Newline* @@"`
}

// Command is a keyword followed by loose arguments, e.g.
// `note bar 1 len q pitch C4`.
type Command struct {
	Pos  lexer.Position `parser:"" json:"-"`
	Name string         `parser:"@Ident"`
	Args []*Lexeme      `parser:"@@*"`
}

// Value is the right-hand side of an assignment. Unquoted values keep
// their tokens so `composer: J S Bach` still reads as one string.
type Value struct {
	String *string   `parser:"  @String"`
	Number *string   `parser:"| @Number"`
	Words  []*Lexeme `parser:"| @@+"`
}

// Lexeme is a raw token captured as a command argument.
type Lexeme struct {
	Type  string         `json:"type"`
	Value string         `json:"value"`
	Pos   lexer.Position `json:"-"`
}

// Parse implements participle.Parseable. An argument list ends at a
// newline, a brace or a semicolon.
func (l *Lexeme) Parse(lex *lexer.PeekingLexer) error {
	tok := lex.Peek()
	if endOfArgs(tok) {
		return participle.NextMatch
	}
	tok = lex.Next()
	name, ok := tokenNames[tok.Type]
	if !ok {
		name = fmt.Sprintf("#%d", tok.Type)
	}
	*l = Lexeme{Type: name, Value: tok.Value, Pos: tok.Pos}
	return nil
}

func endOfArgs(tok *lexer.Token) bool {
	if tok == nil || tok.EOF() {
		return true
	}
	switch tokenNames[tok.Type] {
	case "Newline", "LBrace", "RBrace":
		return true
	case "Punct":
		return tok.Value == ";"
	}
	return false
}

// Parse reads a score document.
func Parse(r io.Reader) (*Document, error) {
	return scoreParser.Parse("", r)
}

// ParseString parses a score document held in memory.
func ParseString(input string) (*Document, error) {
	return scoreParser.ParseString("", input)
}
