package syntax

import "fmt"

// Parser turns a command-string fragment into a CommandAST. The grammar is
// a sequence of pipelines joined by &&, || or ;; a pipeline's stages are
// simple commands or parenthesized subshells; a simple command may carry
// >, >> and < redirects. It never panics: any construct it
// cannot represent surfaces as an error from Parse, and the caller is
// expected to fall back to NeedsRealShell-driven delegation.
type Parser struct{}

// NewParser returns a ready-to-use Parser. Parsers hold no state between
// calls to Parse and are safe for concurrent and repeated use.
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses src as a Sequence of pipelines. A non-nil error means the
// string could not be represented by the restricted grammar; callers
// should treat that as "delegate to a real shell" rather than as a fatal
// failure of their own.
func (p *Parser) Parse(src string) (Command, error) {
	ps := &parseState{lx: newLexer(src)}
	if err := ps.advance(); err != nil {
		return nil, err
	}
	seq, err := ps.parseSequence()
	if err != nil {
		return nil, err
	}
	if ps.tok != EOF {
		return nil, fmt.Errorf("syntax: unexpected trailing input at token %v", ps.tok)
	}
	return seq, nil
}

// Parse is a package-level convenience wrapping NewParser().Parse.
func Parse(src string) (Command, error) {
	return NewParser().Parse(src)
}

type parseState struct {
	lx   *lexer
	tok  Token
	word wordTok
}

func (ps *parseState) advance() error {
	tok, w, err := ps.lx.next()
	if err != nil {
		return err
	}
	ps.tok, ps.word = tok, w
	return nil
}

func (ps *parseState) parseSequence() (Command, error) {
	first, err := ps.parsePipeline()
	if err != nil {
		return nil, err
	}
	commands := []Command{first}
	var ops []Op

	for {
		var op Op
		switch ps.tok {
		case AND:
			op = And
		case OR:
			op = Or
		case SEMI:
			op = Semi
		default:
			if len(commands) == 1 {
				return commands[0], nil
			}
			return &Sequence{Commands: commands, Operators: ops}, nil
		}
		if err := ps.advance(); err != nil {
			return nil, err
		}
		// A trailing separator (e.g. "echo a ;") with nothing after it is
		// not representable as another pipeline; stop here rather than
		// erroring, mirroring a real shell's tolerance of a trailing ';'.
		if ps.tok == EOF || ps.tok == RPAREN {
			if op == Semi {
				if len(commands) == 1 {
					return commands[0], nil
				}
				return &Sequence{Commands: commands, Operators: ops}, nil
			}
			return nil, fmt.Errorf("syntax: expected command after %v", op)
		}
		next, err := ps.parsePipeline()
		if err != nil {
			return nil, err
		}
		commands = append(commands, next)
		ops = append(ops, op)
	}
}

func (ps *parseState) parsePipeline() (Command, error) {
	first, err := ps.parseCommand()
	if err != nil {
		return nil, err
	}
	stages := []Command{first}
	for ps.tok == PIPE {
		if err := ps.advance(); err != nil {
			return nil, err
		}
		next, err := ps.parseCommand()
		if err != nil {
			return nil, err
		}
		stages = append(stages, next)
	}
	if len(stages) == 1 {
		return stages[0], nil
	}
	return &Pipeline{Stages: stages}, nil
}

func (ps *parseState) parseCommand() (Command, error) {
	if ps.tok == LPAREN {
		return ps.parseSubshell()
	}
	return ps.parseSimple()
}

func (ps *parseState) parseSubshell() (Command, error) {
	if err := ps.advance(); err != nil { // consume '('
		return nil, err
	}
	body, err := ps.parseSequence()
	if err != nil {
		return nil, err
	}
	if ps.tok != RPAREN {
		return nil, fmt.Errorf("syntax: expected ')', got %v", ps.tok)
	}
	if err := ps.advance(); err != nil { // consume ')'
		return nil, err
	}
	return &Subshell{Body: body}, nil
}

func (ps *parseState) parseSimple() (Command, error) {
	if ps.tok != WORD {
		return nil, fmt.Errorf("syntax: expected word, got %v", ps.tok)
	}
	cmd := argFromWord(ps.word)
	if err := ps.advance(); err != nil {
		return nil, err
	}
	var args []Arg
	var redirects []Redirect
	for {
		switch ps.tok {
		case WORD:
			args = append(args, argFromWord(ps.word))
			if err := ps.advance(); err != nil {
				return nil, err
			}
		case GTR, SHR, LSS:
			kind := RedirOut
			switch ps.tok {
			case SHR:
				kind = RedirAppend
			case LSS:
				kind = RedirIn
			}
			if err := ps.advance(); err != nil {
				return nil, err
			}
			if ps.tok != WORD {
				return nil, fmt.Errorf("syntax: expected redirect target, got %v", ps.tok)
			}
			redirects = append(redirects, Redirect{Kind: kind, Target: ps.word.value})
			if err := ps.advance(); err != nil {
				return nil, err
			}
		default:
			return &Simple{Cmd: cmd, Args: args, Redirects: redirects}, nil
		}
	}
}

func argFromWord(w wordTok) Arg {
	return Arg{Value: w.value, Quoted: w.quoted, QuoteChar: w.quoteChar}
}
