package interp

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/script-core/diag"
	"github.com/wippyai/script-core/errors"
	"github.com/wippyai/script-core/execctx"
	"github.com/wippyai/script-core/list"
)

// ReturnCode is the completion code of an evaluation.
type ReturnCode int

const (
	OK ReturnCode = iota
	Error
	Return
	Break
	Continue
)

func (c ReturnCode) String() string {
	switch c {
	case OK:
		return "ok"
	case Error:
		return "error"
	case Return:
		return "return"
	case Break:
		return "break"
	case Continue:
		return "continue"
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Result is the outcome of evaluating a script.
type Result struct {
	Value string
	Code  ReturnCode

	// ErrorLine is the 1-based line of the failing command, 0 on success.
	ErrorLine int

	// Queued is set when the script was scheduled instead of evaluated.
	Queued bool
}

const maxNestingLevels = 1000

// returnSignal is raised by the return command to stop the current script.
type returnSignal struct {
	value string
}

func (r *returnSignal) Error() string { return "return" }

// command is one parsed command of a script.
type command struct {
	text string
	line int
}

// Eval evaluates script on the calling thread. A failing script returns a
// Result with Code Error together with a ScriptFailure error carrying the
// message and line.
func (i *Interpreter) Eval(ctx context.Context, script string) (Result, error) {
	if err := i.Check(errors.PhaseEval); err != nil {
		return Result{Code: Error, Value: err.Error()}, err
	}

	i.busy.Add(1)
	defer i.busy.Add(-1)

	ec, err := i.contexts.Engine(ctx, true)
	if err != nil {
		return Result{Code: Error, Value: err.Error()}, err
	}
	if ec.EnterLevel() > maxNestingLevels {
		ec.ExitLevel()
		return i.fail(ec, "too many nested evaluations (infinite loop?)", 0, nil)
	}
	defer ec.ExitLevel()

	vars, err := i.contexts.Variables(ctx, true)
	if err != nil {
		return Result{Code: Error, Value: err.Error()}, err
	}

	cmds, err := splitCommands(script)
	if err != nil {
		return i.fail(ec, err.Error(), lineOf(err), nil)
	}

	var value string
	for _, c := range cmds {
		if i.Canceled() {
			return i.fail(ec, "eval canceled", c.line, nil)
		}

		frame := vars.CurrentFrame()
		words, err := list.ParseWords(c.text, func(name string) (string, error) {
			if v, ok := frame.Get(name); ok {
				return v, nil
			}
			return "", errors.NotFound(errors.PhaseEval, "variable", name)
		})
		if err != nil {
			return i.fail(ec, err.Error(), c.line, err)
		}
		if len(words) == 0 {
			continue
		}

		fn, ok := i.LookupCommand(words[0])
		if !ok {
			return i.fail(ec, fmt.Sprintf("invalid command name %q", words[0]), c.line, nil)
		}

		value, err = fn(ctx, i, words)
		if err != nil {
			if r, ok := err.(*returnSignal); ok {
				value = r.value
				break
			}
			line := c.line
			var nested *errors.Error
			if errors.As(err, &nested) && nested.Kind == errors.KindScriptFailure && nested.Line > 0 {
				line += nested.Line - 1
				return i.fail(ec, nested.Detail, line, nested.Cause)
			}
			return i.fail(ec, err.Error(), line, err)
		}
	}

	ec.ReturnCode = int(OK)
	ec.ErrorLine = 0
	ec.PreviousResult = value
	return Result{Value: value, Code: OK}, nil
}

func (i *Interpreter) fail(ec *execctx.EngineContext, msg string, line int, cause error) (Result, error) {
	ec.ReturnCode = int(Error)
	ec.ErrorLine = line
	ec.ErrorInfo = msg
	Logger().Debug("script failed",
		diag.PriorityScript.Field(),
		zap.Uint64("interpreter", i.id),
		zap.Int("line", line),
		zap.String("result", msg))
	return Result{Value: msg, Code: Error, ErrorLine: line}, errors.ScriptFailure(msg, line, cause)
}

type parseError struct {
	msg  string
	line int
}

func (e *parseError) Error() string { return e.msg }

func lineOf(err error) int {
	if pe, ok := err.(*parseError); ok {
		return pe.line
	}
	return 0
}

// splitCommands cuts a script into commands at newlines and semicolons that
// are outside braces and quotes. Comments run from a leading # to the end of
// the line.
func splitCommands(script string) ([]command, error) {
	var cmds []command
	line := 1
	start := -1
	startLine := 0
	depth := 0
	inQuote := false
	openLine := 0

	flush := func(end int) {
		if start >= 0 {
			if text := strings.TrimSpace(script[start:end]); text != "" {
				cmds = append(cmds, command{text: text, line: startLine})
			}
		}
		start = -1
	}

	for pos := 0; pos < len(script); pos++ {
		c := script[pos]

		if start < 0 {
			if c == ' ' || c == '\t' || c == '\r' || c == ';' {
				continue
			}
			if c == '\n' {
				line++
				continue
			}
			if c == '#' {
				for pos < len(script) && script[pos] != '\n' {
					pos++
				}
				line++
				continue
			}
			start = pos
			startLine = line
		}

		switch c {
		case '\\':
			if pos+1 < len(script) {
				pos++
				if script[pos] == '\n' {
					line++
				}
			}
		case '{':
			if !inQuote {
				if depth == 0 {
					openLine = line
				}
				depth++
			}
		case '}':
			if !inQuote && depth > 0 {
				depth--
			}
		case '"':
			if depth == 0 {
				if !inQuote {
					openLine = line
				}
				inQuote = !inQuote
			}
		case '\n':
			if depth == 0 && !inQuote {
				flush(pos)
			}
			line++
		case ';':
			if depth == 0 && !inQuote {
				flush(pos)
			}
		}
	}

	if depth > 0 {
		return nil, &parseError{msg: "missing close-brace", line: openLine}
	}
	if inQuote {
		return nil, &parseError{msg: `missing "`, line: openLine}
	}
	flush(len(script))
	return cmds, nil
}
