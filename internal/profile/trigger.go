package profile

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Input is what a trigger sees for one received chunk.
type Input struct {
	// Text is the decoded chunk: trimmed UTF-8, or lowercase hex.
	Text    string
	Service string
	Peer    string
}

// Trigger decides whether a reaction fires for a chunk.
type Trigger interface {
	Match(in Input) bool
	String() string
}

type containsTrigger struct{ needle string }

// Contains matches when the text contains needle, case-sensitively.
func Contains(needle string) Trigger { return containsTrigger{needle} }

func (t containsTrigger) Match(in Input) bool { return strings.Contains(in.Text, t.needle) }
func (t containsTrigger) String() string      { return fmt.Sprintf("contains %q", t.needle) }

type containsFoldTrigger struct{ needle string }

// ContainsFold matches when the text contains needle, ignoring case.
func ContainsFold(needle string) Trigger {
	return containsFoldTrigger{strings.ToLower(needle)}
}

func (t containsFoldTrigger) Match(in Input) bool {
	return strings.Contains(strings.ToLower(in.Text), t.needle)
}
func (t containsFoldTrigger) String() string { return fmt.Sprintf("contains_fold %q", t.needle) }

type tokenTrigger struct{ token string }

// Token matches when one whitespace-separated word of the text equals
// token, ignoring case.
func Token(token string) Trigger { return tokenTrigger{token} }

func (t tokenTrigger) Match(in Input) bool {
	for _, f := range strings.Fields(in.Text) {
		if strings.EqualFold(f, t.token) {
			return true
		}
	}
	return false
}
func (t tokenTrigger) String() string { return fmt.Sprintf("token %q", t.token) }

type anyTrigger struct{}

// Any matches every chunk.
func Any() Trigger { return anyTrigger{} }

func (anyTrigger) Match(Input) bool { return true }
func (anyTrigger) String() string   { return "any" }

// exprEnv is the environment visible to expression triggers.
type exprEnv struct {
	Text    string
	Lower   string
	Service string
	Peer    string
}

type exprTrigger struct {
	source  string
	program *vm.Program
}

// Expr compiles a boolean expr-lang expression over Text, Lower, Service
// and Peer, e.g. `Lower contains "wget" || Text startsWith "GET "`.
func Expr(source string) (Trigger, error) {
	program, err := expr.Compile(source, expr.Env(exprEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: expression %q: %v", ErrInvalidProfile, source, err)
	}
	return exprTrigger{source: source, program: program}, nil
}

// Match treats evaluation errors as no match.
func (t exprTrigger) Match(in Input) bool {
	out, err := expr.Run(t.program, exprEnv{
		Text:    in.Text,
		Lower:   strings.ToLower(in.Text),
		Service: in.Service,
		Peer:    in.Peer,
	})
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func (t exprTrigger) String() string { return fmt.Sprintf("expr %q", t.source) }
