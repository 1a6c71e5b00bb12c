package validator

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// sourceLexer splits text into word runs, parentheses and everything else.
// A Word token is a maximal run of [A-Za-z0-9_], so comparing Word values
// is the same as a whole-word (\b...\b) match on the raw text.
var sourceLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Word", Pattern: `\w+`},
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "Other", Pattern: `[^\w()]+`},
})

var (
	wordType   = sourceLexer.Symbols()["Word"]
	lparenType = sourceLexer.Symbols()["LParen"]
	rparenType = sourceLexer.Symbols()["RParen"]
)

// tokenCounts summarises a source text for the balance checks.
type tokenCounts struct {
	words  map[string]int
	first  map[string]int // lower-cased word -> line of first occurrence
	lparen int
	rparen int
}

func countTokens(src string) (*tokenCounts, error) {
	lex, err := sourceLexer.Lex("", strings.NewReader(src))
	if err != nil {
		return nil, err
	}
	tokens, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, err
	}

	c := &tokenCounts{
		words: make(map[string]int),
		first: make(map[string]int),
	}
	for _, tok := range tokens {
		switch tok.Type {
		case wordType:
			c.words[tok.Value]++
			lower := strings.ToLower(tok.Value)
			if _, ok := c.first[lower]; !ok {
				c.first[lower] = tok.Pos.Line
			}
		case lparenType:
			c.lparen++
		case rparenType:
			c.rparen++
		}
	}
	return c, nil
}

// word returns the case-sensitive count of a whole word.
func (c *tokenCounts) word(w string) int {
	return c.words[w]
}

// lineOf returns the line where w first appears, ignoring case, or 0.
func (c *tokenCounts) lineOf(w string) int {
	return c.first[strings.ToLower(w)]
}
