package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/script-core/list"
	"github.com/wippyai/script-core/native"
	"github.com/wippyai/script-core/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#555555"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const maxTranscript = 200

type modelState int

const (
	stateREPL modelState = iota
	stateSelectFunc
	stateInputArgs
)

type entry struct {
	input  string
	output string
	failed bool
}

type interactiveModel struct {
	ctx        context.Context
	rt         *runtime.Runtime
	prompt     textinput.Model
	transcript []entry
	history    []string
	histIdx    int
	symbols    []native.Symbol
	inputs     []textinput.Model
	selected   int
	focusIdx   int
	busy       bool
	state      modelState
}

type evalResultMsg struct {
	entry entry
}

func newInteractiveModel(ctx context.Context, rt *runtime.Runtime) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = "% "
	ti.Placeholder = "script"
	ti.Width = 72
	ti.Focus()
	return &interactiveModel{
		ctx:     ctx,
		rt:      rt,
		prompt:  ti,
		symbols: native.Symbols(),
		state:   stateREPL,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case evalResultMsg:
		m.busy = false
		m.record(msg.entry)
		return m, nil
	}

	switch m.state {
	case stateREPL:
		var cmd tea.Cmd
		m.prompt, cmd = m.prompt.Update(msg)
		return m, cmd
	case stateInputArgs:
		cmds := make([]tea.Cmd, 0, len(m.inputs))
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}
	return m, nil
}

func (m *interactiveModel) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit, true
	case "ctrl+f":
		if m.state == stateREPL {
			m.state = stateSelectFunc
			m.prompt.Blur()
			return nil, true
		}
	case "esc":
		switch m.state {
		case stateSelectFunc:
			m.state = stateREPL
			return m.prompt.Focus(), true
		case stateInputArgs:
			m.state = stateSelectFunc
			m.inputs = nil
			return nil, true
		}
	case "up", "k":
		switch m.state {
		case stateSelectFunc:
			if m.selected > 0 {
				m.selected--
			}
			return nil, true
		case stateREPL:
			if msg.String() == "up" {
				m.recall(-1)
				return nil, true
			}
		}
	case "down", "j":
		switch m.state {
		case stateSelectFunc:
			if m.selected < len(m.symbols)-1 {
				m.selected++
			}
			return nil, true
		case stateREPL:
			if msg.String() == "down" {
				m.recall(1)
				return nil, true
			}
		}
	case "tab":
		if m.state == stateInputArgs && len(m.inputs) > 1 {
			m.inputs[m.focusIdx].Blur()
			m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
			return m.inputs[m.focusIdx].Focus(), true
		}
	case "enter":
		if m.busy {
			return nil, true
		}
		switch m.state {
		case stateREPL:
			script := strings.TrimSpace(m.prompt.Value())
			if script == "" {
				return nil, true
			}
			m.prompt.SetValue("")
			m.history = append(m.history, script)
			m.histIdx = len(m.history)
			m.busy = true
			return m.evalScript(script), true
		case stateSelectFunc:
			return m.selectFunc(), true
		case stateInputArgs:
			sym := m.symbols[m.selected]
			args := make([]string, len(m.inputs))
			for i, in := range m.inputs {
				args[i] = strings.TrimSpace(in.Value())
			}
			m.inputs = nil
			m.state = stateSelectFunc
			m.busy = true
			return m.callFunc(sym, args), true
		}
	}
	return nil, false
}

func (m *interactiveModel) recall(delta int) {
	if len(m.history) == 0 {
		return
	}
	m.histIdx = max(0, min(len(m.history), m.histIdx+delta))
	if m.histIdx == len(m.history) {
		m.prompt.SetValue("")
		return
	}
	m.prompt.SetValue(m.history[m.histIdx])
	m.prompt.CursorEnd()
}

func (m *interactiveModel) record(e entry) {
	m.transcript = append(m.transcript, e)
	if n := len(m.transcript); n > maxTranscript {
		m.transcript = m.transcript[n-maxTranscript:]
	}
}

func (m *interactiveModel) selectFunc() tea.Cmd {
	sym := m.symbols[m.selected]
	b := m.rt.Bindings()
	if b == nil || !b.Has(sym.Func) {
		m.record(entry{input: sym.Name, output: "function is not bound", failed: true})
		return nil
	}
	if !sym.Callable() {
		m.record(entry{input: sym.Name, output: "string parameters cannot be passed from the shell", failed: true})
		return nil
	}
	if len(sym.Params) == 0 {
		m.busy = true
		return m.callFunc(sym, nil)
	}

	types := sym.ParamTypes()
	m.inputs = make([]textinput.Model, len(sym.Params))
	for i := range sym.Params {
		ti := textinput.New()
		ti.Placeholder = types[i]
		ti.Prompt = paramName(sym, i) + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
	m.state = stateInputArgs
	return textinput.Blink
}

func (m *interactiveModel) evalScript(script string) tea.Cmd {
	return func() tea.Msg {
		res, err := m.rt.Eval(m.ctx, script)
		if err != nil {
			return evalResultMsg{entry{input: script, output: res.Value, failed: true}}
		}
		return evalResultMsg{entry{input: script, output: res.Value}}
	}
}

// callFunc goes through the native command so the call is recorded in the
// interactive history like any other script.
func (m *interactiveModel) callFunc(sym native.Symbol, args []string) tea.Cmd {
	words := append([]string{"native", "call", sym.Name}, args...)
	return m.evalScript(list.Join(words))
}

func paramName(sym native.Symbol, i int) string {
	if i < len(sym.ParamNames) && sym.ParamNames[i] != "" {
		return sym.ParamNames[i]
	}
	return fmt.Sprintf("arg%d", i)
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Script Shell"))
	b.WriteString(" ")
	if nb := m.rt.Bindings(); nb != nil {
		b.WriteString(nb.Status())
	} else {
		b.WriteString(dimStyle.Render("no library bound"))
	}
	b.WriteString("\n\n")

	switch m.state {
	case stateREPL:
		for _, e := range m.transcript {
			b.WriteString(dimStyle.Render("% " + e.input))
			b.WriteString("\n")
			if e.output != "" {
				if e.failed {
					b.WriteString(errorStyle.Render(e.output))
				} else {
					b.WriteString(resultStyle.Render(e.output))
				}
				b.WriteString("\n")
			}
		}
		b.WriteString(m.prompt.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter eval • ↑/↓ history • ctrl+f functions • ctrl+c quit"))

	case stateSelectFunc:
		bound := m.rt.Bindings()
		b.WriteString("Select a native function:\n\n")
		for i, sym := range m.symbols {
			line := m.formatSymbol(sym)
			switch {
			case i == m.selected:
				b.WriteString(selectedStyle.Render("> " + line))
			case bound == nil || !bound.Has(sym.Func):
				b.WriteString(dimStyle.Render("  " + line))
			default:
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		if n := len(m.transcript); n > 0 {
			last := m.transcript[n-1]
			b.WriteString("\n")
			if last.failed {
				b.WriteString(errorStyle.Render(last.input + ": " + last.output))
			} else {
				b.WriteString(resultStyle.Render(last.input + " = " + last.output))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • esc back"))

	case stateInputArgs:
		sym := m.symbols[m.selected]
		types := sym.ParamTypes()
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(sym.Name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(types[i]))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))
	}

	return b.String()
}

func (m *interactiveModel) formatSymbol(sym native.Symbol) string {
	types := sym.ParamTypes()
	params := make([]string, len(types))
	for i, t := range types {
		params[i] = paramName(sym, i) + ": " + typeStyle.Render(t)
	}
	result := ""
	if len(sym.Results) > 0 {
		result = " -> " + typeStyle.Render(strings.Join(sym.ResultTypes(), ", "))
	}
	name := sym.Name
	if sym.Optional {
		name += "?"
	}
	return funcStyle.Render(name) + "(" + strings.Join(params, ", ") + ")" + result
}

func runInteractive(ctx context.Context, rt *runtime.Runtime) error {
	p := tea.NewProgram(newInteractiveModel(ctx, rt), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
