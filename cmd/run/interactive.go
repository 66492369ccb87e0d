package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// theme groups the styles of the function browser.
type theme struct {
	banner  lipgloss.Style
	dim     lipgloss.Style
	name    lipgloss.Style
	sig     lipgloss.Style
	cursor  lipgloss.Style
	value   lipgloss.Style
	fault   lipgloss.Style
	capture lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		banner: lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color("#1B1B1B")).
			Background(lipgloss.Color("#E5C07B")).
			Padding(0, 1),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("#5C6370")),
		name:   lipgloss.NewStyle().Foreground(lipgloss.Color("#61AFEF")),
		sig:    lipgloss.NewStyle().Foreground(lipgloss.Color("#C678DD")),
		cursor: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5C07B")),
		value:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#98C379")),
		fault:  lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")),
		capture: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ABB2BF")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5C6370")).
			Padding(0, 1),
	}
}

type screen int

const (
	screenPick screen = iota
	screenEdit
	screenOutcome
)

// browser lets the user pick an exported function, fill in its
// arguments and see the result together with anything the guest printed.
type browser struct {
	loadErr  error
	callErr  error
	session  *session
	captured *bytes.Buffer
	opts     options
	style    theme
	result   string
	printed  string
	fieldErr string
	funcs    []funcInfo
	fields   []textinput.Model
	imports  int
	linked   int
	cursor   int
	focus    int
	screen   screen
}

type sessionReady struct {
	err     error
	session *session
}

type callDone struct {
	err     error
	result  string
	printed string
}

func newBrowser(opts options) *browser {
	buf := &bytes.Buffer{}
	opts.stdout, opts.stderr = buf, buf
	return &browser{opts: opts, captured: buf, style: defaultTheme()}
}

func (b *browser) Init() tea.Cmd {
	return func() tea.Msg {
		s, err := openSession(context.Background(), b.opts)
		return sessionReady{session: s, err: err}
	}
}

func (b *browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case sessionReady:
		b.attach(msg.session, msg.err)
		return b, nil
	case callDone:
		b.result, b.printed, b.callErr = msg.result, msg.printed, msg.err
		b.screen = screenOutcome
		return b, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return b, b.quit()
		}
		switch b.screen {
		case screenPick:
			return b.pickKey(msg)
		case screenEdit:
			return b.editKey(msg)
		case screenOutcome:
			return b.outcomeKey(msg)
		}
	}
	return b, nil
}

func (b *browser) attach(s *session, err error) {
	if err != nil {
		b.loadErr = err
		return
	}
	b.session = s
	b.funcs = s.callable()
	b.imports, b.linked = 0, 0
	for _, fi := range s.mod.Functions(s.rt) {
		if fi.Import == nil {
			continue
		}
		b.imports++
		if fi.Linked {
			b.linked++
		}
	}
}

func (b *browser) quit() tea.Cmd {
	if b.session != nil {
		b.session.Close()
		b.session = nil
	}
	return tea.Quit
}

func (b *browser) pickKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return b, b.quit()
	case "up", "k":
		if b.cursor > 0 {
			b.cursor--
		}
	case "down", "j":
		if b.cursor < len(b.funcs)-1 {
			b.cursor++
		}
	case "home", "g":
		b.cursor = 0
	case "end", "G":
		if len(b.funcs) > 0 {
			b.cursor = len(b.funcs) - 1
		}
	case "enter":
		if b.session == nil || len(b.funcs) == 0 {
			return b, nil
		}
		b.buildFields()
		if len(b.fields) == 0 {
			return b, b.invoke(nil)
		}
		b.screen = screenEdit
		return b, textinput.Blink
	}
	return b, nil
}

func (b *browser) editKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		b.fields, b.fieldErr = nil, ""
		b.screen = screenPick
		return b, nil
	case "tab", "down":
		b.moveFocus(1)
		return b, nil
	case "shift+tab", "up":
		b.moveFocus(-1)
		return b, nil
	case "enter":
		return b, b.submit()
	}

	var cmd tea.Cmd
	b.fields[b.focus], cmd = b.fields[b.focus].Update(msg)
	b.fieldErr = ""
	return b, cmd
}

func (b *browser) outcomeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return b, b.quit()
	case "r":
		// Same function, same arguments.
		return b, b.submit()
	case "enter", "esc", " ":
		b.result, b.printed, b.callErr = "", "", nil
		b.fields, b.fieldErr = nil, ""
		b.screen = screenPick
	}
	return b, nil
}

func (b *browser) buildFields() {
	f := b.funcs[b.cursor]
	b.fields = make([]textinput.Model, len(f.params))
	for i, p := range f.params {
		in := textinput.New()
		in.Prompt = fmt.Sprintf("%-6s ", p.name)
		in.Placeholder = p.typeStr
		in.CharLimit = 64
		in.Width = 32
		b.fields[i] = in
	}
	b.focus, b.fieldErr = 0, ""
	if len(b.fields) > 0 {
		b.fields[0].Focus()
	}
}

func (b *browser) moveFocus(delta int) {
	if len(b.fields) < 2 {
		return
	}
	b.fields[b.focus].Blur()
	b.focus = (b.focus + delta + len(b.fields)) % len(b.fields)
	b.fields[b.focus].Focus()
}

// submit checks every field against its parameter type before calling. The
// first field that does not parse takes focus and the call is not made.
func (b *browser) submit() tea.Cmd {
	f := b.funcs[b.cursor]
	args := make([]string, len(b.fields))
	for i := range b.fields {
		args[i] = strings.TrimSpace(b.fields[i].Value())
		if _, err := parseArg(f.params[i], args[i]); err != nil {
			b.fieldErr = fmt.Sprintf("%s: %v", f.params[i].name, err)
			b.moveFocus(i - b.focus)
			return nil
		}
	}
	return b.invoke(args)
}

func (b *browser) invoke(args []string) tea.Cmd {
	name := b.funcs[b.cursor].name
	s, buf := b.session, b.captured
	return func() tea.Msg {
		if s == nil {
			return callDone{err: fmt.Errorf("module not loaded")}
		}
		buf.Reset()
		result, err := s.call(context.Background(), name, args)
		return callDone{result: result, printed: buf.String(), err: err}
	}
}

func (b *browser) View() string {
	if b.loadErr != nil {
		return b.style.fault.Render("cannot open "+b.opts.wasmFile+"\n"+b.loadErr.Error()) +
			"\n\n" + b.style.dim.Render("ctrl+c exits")
	}
	if b.session == nil {
		return b.style.dim.Render("loading " + b.opts.wasmFile + " ...")
	}

	var out strings.Builder
	out.WriteString(b.header())
	out.WriteString("\n\n")
	switch b.screen {
	case screenPick:
		out.WriteString(b.pickView())
	case screenEdit:
		out.WriteString(b.editView())
	case screenOutcome:
		out.WriteString(b.outcomeView())
	}
	return out.String()
}

func (b *browser) header() string {
	status := fmt.Sprintf("%d callable · %d/%d imports linked", len(b.funcs), b.linked, b.imports)
	return b.style.banner.Render(b.session.mod.Name(b.session.rt)) + " " +
		b.style.dim.Render(b.opts.wasmFile+"  "+status)
}

func (b *browser) pickView() string {
	if len(b.funcs) == 0 {
		return "nothing to call: the module exports no functions\n\n" + b.style.dim.Render("q exits")
	}

	width := 0
	for _, f := range b.funcs {
		width = max(width, len(f.name))
	}

	var out strings.Builder
	for i, f := range b.funcs {
		marker, name := "  ", b.style.name.Render(fmt.Sprintf("%-*s", width, f.name))
		if i == b.cursor {
			marker = b.style.cursor.Render("▸ ")
			name = b.style.cursor.Render(fmt.Sprintf("%-*s", width, f.name))
		}
		fmt.Fprintf(&out, "%s%s  %s\n", marker, name, b.style.sig.Render(signatureText(f)))
	}
	out.WriteString("\n")
	out.WriteString(b.style.dim.Render("j/k move · g/G ends · enter call · q exits"))
	return out.String()
}

func (b *browser) editView() string {
	f := b.funcs[b.cursor]
	var out strings.Builder
	fmt.Fprintf(&out, "%s %s\n\n", b.style.name.Render(f.name), b.style.sig.Render(signatureText(f)))
	for _, in := range b.fields {
		out.WriteString(in.View())
		out.WriteString("\n")
	}
	if b.fieldErr != "" {
		out.WriteString("\n")
		out.WriteString(b.style.fault.Render(b.fieldErr))
		out.WriteString("\n")
	}
	out.WriteString("\n")
	out.WriteString(b.style.dim.Render("tab/shift+tab field · enter call · esc back"))
	return out.String()
}

func (b *browser) outcomeView() string {
	f := b.funcs[b.cursor]
	var out strings.Builder
	out.WriteString(b.style.name.Render(f.name))
	out.WriteString(" ⇒ ")
	switch {
	case b.callErr != nil:
		out.WriteString(b.style.fault.Render(b.callErr.Error()))
	case b.result == "":
		out.WriteString(b.style.dim.Render("returned nothing"))
	default:
		out.WriteString(b.style.value.Render(b.result))
	}
	out.WriteString("\n")
	if text := strings.TrimRight(b.printed, "\n"); text != "" {
		out.WriteString("\n")
		out.WriteString(b.style.capture.Render(text))
		out.WriteString("\n")
	}
	out.WriteString("\n")
	out.WriteString(b.style.dim.Render("enter back · r again · q exits"))
	return out.String()
}

// signatureText renders a function's parameter and result types, using WIT
// types where the session resolved them.
func signatureText(f funcInfo) string {
	types := make([]string, len(f.params))
	for i, p := range f.params {
		types[i] = p.typeStr
	}
	text := "(" + strings.Join(types, ", ") + ")"
	if f.resultType != "" {
		text += " -> " + f.resultType
	}
	return text
}

func runInteractive(opts options) error {
	_, err := tea.NewProgram(newBrowser(opts), tea.WithAltScreen()).Run()
	return err
}
