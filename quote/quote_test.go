package quote

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/link-foundation/command-stream-sub001/syntax"
)

func TestQuoteSafePassthrough(t *testing.T) {
	c := qt.New(t)
	c.Assert(Quote("hello"), qt.Equals, "hello")
	c.Assert(Quote("a/b-c.d_e=f,g+h@i:j"), qt.Equals, "a/b-c.d_e=f,g+h@i:j")
}

func TestQuoteEmpty(t *testing.T) {
	qt.Assert(t, Quote(""), qt.Equals, "''")
}

func TestQuoteInjectionImpossible(t *testing.T) {
	c := qt.New(t)
	v := "hello; rm -rf /"
	cmd := Template([]string{"echo ", ""}, v)

	ast, err := syntax.Parse(cmd)
	c.Assert(err, qt.IsNil)
	simple, ok := ast.(*syntax.Simple)
	c.Assert(ok, qt.IsTrue)
	c.Assert(simple.Args, qt.HasLen, 1)
	c.Assert(simple.Args[0].Value, qt.Equals, v)
}

func TestQuoteArbitraryStringRoundTrips(t *testing.T) {
	c := qt.New(t)
	for _, v := range []string{
		"hello world",
		`it's a test`,
		`"already quoted"`,
		"",
		"tab\tnewline\n",
	} {
		cmd := Template([]string{"echo ", ""}, v)
		ast, err := syntax.Parse(cmd)
		c.Assert(err, qt.IsNil)
		simple, ok := ast.(*syntax.Simple)
		c.Assert(ok, qt.IsTrue)
		c.Assert(simple.Args, qt.HasLen, 1)
		c.Assert(simple.Args[0].Value, qt.Equals, v)
	}
}

func TestRawSplicesVerbatim(t *testing.T) {
	c := qt.New(t)
	got := Template([]string{"", " extra"}, Raw("echo a && echo b"))
	c.Assert(got, qt.Equals, "echo a && echo b extra")
}

func TestNilBecomesEmptyQuotes(t *testing.T) {
	qt.Assert(t, Template([]string{"echo ", ""}, nil), qt.Equals, "echo ''")
}

func TestArrayJoinsQuotedElements(t *testing.T) {
	c := qt.New(t)
	got := Template([]string{"cmd ", ""}, []string{"a b", "c"})
	c.Assert(got, qt.Equals, "cmd 'a b' c")
}

func TestBareSingleValueTemplateSplicesRawCommand(t *testing.T) {
	c := qt.New(t)
	cmdString := "echo one && echo two"
	got := Template([]string{"", ""}, cmdString)
	c.Assert(got, qt.Equals, cmdString)
}
