// Package tui is an interactive terminal browser for notebooks.
//
// Keys:
//
//	browser:  up/down select, enter open, q quit
//	notebook: up/down select cell, enter run, a run all, e edit,
//	          i interrupt, b back, q quit
//	editing:  ctrl+s save, esc cancel
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/nstogner/nbtool/pkg/executor"
	"github.com/nstogner/nbtool/pkg/kernel"
	"github.com/nstogner/nbtool/pkg/notebook"
	"github.com/nstogner/nbtool/pkg/service"
	"github.com/nstogner/nbtool/pkg/tools"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#F37726")).
			Bold(true).
			Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	outputStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("240"))
	codeStyle   = lipgloss.NewStyle().PaddingLeft(2)
	liveStyle   = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("2"))

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	statusStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).PaddingLeft(1)
)

type state int

const (
	stateBrowsing state = iota
	stateNotebook
	stateEditing
	stateConfirmExit
)

type errMsg struct{ err error }
type listingMsg struct{ listing *service.Listing }
type documentMsg struct{ doc *service.Document }
type outputMsg string
type statusMsg string

type outcomeMsg struct {
	index int
	out   *executor.Outcome
	err   error
}

type allOutcomeMsg struct {
	out *executor.AllOutcome
	err error
}

type model struct {
	ctx    context.Context
	docs   *service.Service
	runner tools.Runner
	dir    string

	// State
	state     state
	previous  state
	notebooks []service.Entry
	path      string
	doc       *service.Document
	cursor    int
	width     int
	height    int
	busy      bool
	running   int
	live      []string
	status    string
	err       error
	outputs   chan string
	startPath string

	// UI Components
	viewport viewport.Model
	textarea textarea.Model
	renderer *glamour.TermRenderer
}

// New returns a model browsing dir, or opening target directly when it
// names a notebook file.
func New(ctx context.Context, docs *service.Service, runner tools.Runner, target string) tea.Model {
	return newModel(ctx, docs, runner, target)
}

func newModel(ctx context.Context, docs *service.Service, runner tools.Runner, target string) model {
	ta := textarea.New()
	ta.Placeholder = "Cell source..."
	ta.Prompt = "┃ "
	ta.CharLimit = 0
	ta.SetWidth(80)
	ta.SetHeight(10)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = true

	vp := viewport.New(80, 20)
	vp.KeyMap = viewport.KeyMap{
		PageDown: key.NewBinding(key.WithKeys("pgdown")),
		PageUp:   key.NewBinding(key.WithKeys("pgup")),
	}

	m := model{
		ctx:      ctx,
		docs:     docs,
		runner:   runner,
		dir:      target,
		running:  -1,
		outputs:  make(chan string, 64),
		viewport: vp,
		textarea: ta,
		renderer: newRenderer(80),
	}
	if strings.HasSuffix(target, ".ipynb") {
		m.dir = filepath.Dir(target)
		m.startPath = target
	}
	if m.dir == "" {
		m.dir = "."
	}
	return m
}

// Use "light" style to avoid terminal queries that leak into input.
func newRenderer(width int) *glamour.TermRenderer {
	if width < 20 {
		width = 20
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		slog.Warn("Markdown renderer unavailable", "error", err)
		return nil
	}
	return r
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForOutput(m.outputs)}
	if m.startPath != "" {
		cmds = append(cmds, m.openNotebook(m.startPath))
	} else {
		cmds = append(cmds, m.listNotebooks())
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg.(type) {
	case tea.KeyMsg:
		// Keys belong to the editor only while editing.
		if m.state == stateEditing {
			if k := msg.(tea.KeyMsg); k.Type != tea.KeyEsc && k.Type != tea.KeyCtrlS {
				var taCmd tea.Cmd
				m.textarea, taCmd = m.textarea.Update(msg)
				return m, taCmd
			}
		}
		if m.state == stateNotebook {
			var vpCmd tea.Cmd
			m.viewport, vpCmd = m.viewport.Update(msg)
			cmds = append(cmds, vpCmd)
		}
	default:
		var vpCmd tea.Cmd
		m.viewport, vpCmd = m.viewport.Update(msg)
		cmds = append(cmds, vpCmd)
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 4 // Header + footer
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}
		m.textarea.SetWidth(msg.Width)
		m.textarea.SetHeight(max(msg.Height-5, 3))
		m.renderer = newRenderer(m.width - 4)
		m.refreshView()

	case tea.KeyMsg:
		return m.handleKey(msg, cmds)

	case listingMsg:
		m.notebooks = msg.listing.Notebooks
		m.cursor = min(m.cursor, max(len(m.notebooks)-1, 0))
		m.state = stateBrowsing

	case documentMsg:
		m.doc = msg.doc
		m.path = msg.doc.Path
		if m.state == stateBrowsing {
			m.state = stateNotebook
			m.cursor = 0
		}
		m.cursor = min(m.cursor, max(len(m.doc.Cells)-1, 0))
		m.refreshView()

	case outputMsg:
		m.live = append(m.live, string(msg))
		m.refreshView()
		cmds = append(cmds, waitForOutput(m.outputs))

	case outcomeMsg:
		m.busy = false
		m.running = -1
		m.live = nil
		switch {
		case msg.err != nil:
			m.err = msg.err
		case msg.out.Success:
			m.status = fmt.Sprintf("Cell %d finished in %s", msg.index, msg.out.Duration.Round(time.Millisecond))
		case msg.out.TimedOut:
			m.status = fmt.Sprintf("Cell %d timed out", msg.index)
		default:
			m.status = fmt.Sprintf("Cell %d failed: %s", msg.index, msg.out.Error)
		}
		cmds = append(cmds, m.openNotebook(m.path))

	case allOutcomeMsg:
		m.busy = false
		m.running = -1
		m.live = nil
		switch {
		case msg.err != nil:
			m.err = msg.err
		case msg.out.Success:
			m.status = fmt.Sprintf("Ran %d code cells", msg.out.Executed)
		default:
			m.status = fmt.Sprintf("Stopped after %d of %d code cells: %s", msg.out.Executed, msg.out.CodeCells, msg.out.Error)
		}
		cmds = append(cmds, m.openNotebook(m.path))

	case statusMsg:
		m.status = string(msg)

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg, cmds []tea.Cmd) (tea.Model, tea.Cmd) {
	if m.state == stateConfirmExit {
		switch msg.String() {
		case "y", "Y":
			return m, tea.Quit
		case "n", "N", "esc":
			m.state = m.previous
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c":
		return m.quit()
	case "esc":
		switch m.state {
		case stateEditing:
			m.textarea.Blur()
			m.state = stateNotebook
			return m, nil
		case stateNotebook:
			return m.back()
		}
		return m.quit()
	case "ctrl+s":
		if m.state == stateEditing {
			m.textarea.Blur()
			m.state = stateNotebook
			return m, m.saveCell(m.cursor, m.textarea.Value())
		}
	case "q":
		return m.quit()
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
			m.refreshView()
		}
	case "down", "j":
		if m.cursor < m.itemCount()-1 {
			m.cursor++
			m.refreshView()
		}
	case "enter":
		m.err = nil
		switch m.state {
		case stateBrowsing:
			if len(m.notebooks) > 0 {
				return m, m.openNotebook(m.notebooks[m.cursor].Path)
			}
		case stateNotebook:
			if m.busy || m.doc == nil || len(m.doc.Cells) == 0 {
				return m, nil
			}
			if m.doc.Cells[m.cursor].CellType != notebook.CellCode {
				m.status = fmt.Sprintf("Cell %d is not a code cell", m.cursor)
				return m, nil
			}
			m.busy = true
			m.running = m.cursor
			m.status = fmt.Sprintf("Running cell %d...", m.cursor)
			m.refreshView()
			return m, m.execute(m.cursor)
		}
	case "a":
		if m.state == stateNotebook && !m.busy {
			m.err = nil
			m.busy = true
			m.status = "Running all cells..."
			return m, m.executeAll()
		}
	case "e":
		if m.state == stateNotebook && m.doc != nil && len(m.doc.Cells) > 0 {
			m.state = stateEditing
			m.textarea.SetValue(m.doc.Cells[m.cursor].Source)
			m.textarea.Focus()
			return m, textarea.Blink
		}
	case "i":
		if m.state == stateNotebook {
			return m, m.interrupt()
		}
	case "b":
		if m.state == stateNotebook {
			return m.back()
		}
	}
	return m, tea.Batch(cmds...)
}

func (m model) itemCount() int {
	if m.state == stateBrowsing {
		return len(m.notebooks)
	}
	if m.doc == nil {
		return 0
	}
	return len(m.doc.Cells)
}

func (m model) back() (model, tea.Cmd) {
	m.state = stateBrowsing
	m.cursor = 0
	m.doc = nil
	m.live = nil
	return m, m.listNotebooks()
}

// quit asks for confirmation while a kernel is alive, since leaving
// shuts it down.
func (m model) quit() (model, tea.Cmd) {
	if m.runner.Registry().Current().State == kernel.StateRunning {
		m.previous = m.state
		m.state = stateConfirmExit
		return m, nil
	}
	return m, tea.Quit
}

// refreshView re-renders the cell list into the viewport and keeps the
// selected cell visible.
func (m *model) refreshView() {
	if m.doc == nil {
		return
	}
	content, line := m.renderCells()
	m.viewport.SetContent(content)
	if line < m.viewport.YOffset || line >= m.viewport.YOffset+m.viewport.Height {
		m.viewport.SetYOffset(line)
	}
}

func (m model) renderCells() (string, int) {
	var sb strings.Builder
	selected := 0
	for i, c := range m.doc.Cells {
		if i == m.cursor {
			selected = strings.Count(sb.String(), "\n")
		}
		cursor := " "
		if i == m.cursor {
			cursor = ">"
		}
		sb.WriteString(cursorStyle.Render(cursor) + " ")

		switch c.CellType {
		case notebook.CellCode:
			count := " "
			if c.ExecutionCount != nil {
				count = strconv.Itoa(*c.ExecutionCount)
			}
			if i == m.running {
				count = "*"
			}
			sb.WriteString(promptStyle.Render(fmt.Sprintf("In [%s]:", count)))
			sb.WriteString("\n")
			sb.WriteString(codeStyle.Render(c.Source))
			sb.WriteString("\n")
			if i == m.running {
				for _, l := range m.live {
					sb.WriteString(liveStyle.Render(strings.TrimRight(l, "\n")))
					sb.WriteString("\n")
				}
				break
			}
			for _, o := range c.Outputs {
				sb.WriteString(outputStyle.Render(strings.TrimRight(o, "\n")))
				sb.WriteString("\n")
			}
		case notebook.CellMarkdown:
			sb.WriteString(statusStyle.Render(fmt.Sprintf("[%d] markdown", i)))
			sb.WriteString("\n")
			sb.WriteString(m.renderMarkdown(c.Source))
		default:
			sb.WriteString(statusStyle.Render(fmt.Sprintf("[%d] %s", i, c.CellType)))
			sb.WriteString("\n")
			sb.WriteString(codeStyle.Render(c.Source))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String(), selected
}

func (m model) renderMarkdown(src string) string {
	if m.renderer == nil {
		return codeStyle.Render(src) + "\n"
	}
	out, err := m.renderer.Render(src)
	if err != nil {
		return codeStyle.Render(src) + "\n" // Fallback
	}
	return out
}

func (m model) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	switch m.state {
	case stateConfirmExit:
		header := titleStyle.Render("Quit")
		return lipgloss.JoinVertical(lipgloss.Left, header, "",
			"A kernel is running and will be shut down. Quit? (y/n)")

	case stateEditing:
		header := titleStyle.Render(fmt.Sprintf("Editing cell %d of %s", m.cursor, filepath.Base(m.path)))
		footer := statusStyle.Render("ctrl+s save, esc cancel")
		return lipgloss.JoinVertical(lipgloss.Left, header, m.textarea.View(), footer, errorView)

	case stateNotebook:
		if m.doc == nil {
			return titleStyle.Render("Loading...")
		}
		k := m.runner.Registry().Current()
		kernelInfo := string(k.State)
		if k.Spec != "" {
			kernelInfo = k.Spec + " " + kernelInfo
		}
		header := titleStyle.Render(fmt.Sprintf("%s (%d cells)", filepath.Base(m.path), len(m.doc.Cells))) +
			" " + statusStyle.Render("kernel: "+kernelInfo)
		footer := statusStyle.Render("enter run, a run all, e edit, i interrupt, b back, q quit")
		if m.status != "" {
			footer = statusStyle.Render(m.status) + "\n" + footer
		}
		return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), footer, errorView)
	}

	header := titleStyle.Render("Notebooks in " + m.dir)
	if len(m.notebooks) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, header, "", "No notebooks found.", "", "Press q to quit.", errorView)
	}

	maxViewable := max(m.height-7, 1)
	start := max(m.cursor-maxViewable+1, 0)
	end := min(start+maxViewable, len(m.notebooks))

	var items []string
	for i := start; i < end; i++ {
		nb := m.notebooks[i]
		cursor := " "
		line := fmt.Sprintf("%s  %d cells  %s", nb.Name, nb.CellsCount, nb.Title)
		if m.cursor == i {
			cursor = ">"
			line = selectedItemStyle.Render(line)
		}
		items = append(items, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
	}
	list := lipgloss.JoinVertical(lipgloss.Left, items...)
	footer := "Press Enter to open, q to quit."
	return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, errorView)
}

// --- Commands ---

func (m model) listNotebooks() tea.Cmd {
	docs, dir := m.docs, m.dir
	return func() tea.Msg {
		listing, err := docs.List(dir)
		if err != nil {
			return errMsg{err}
		}
		return listingMsg{listing}
	}
}

func (m model) openNotebook(path string) tea.Cmd {
	docs := m.docs
	return func() tea.Msg {
		doc, err := docs.Read(path)
		if err != nil {
			return errMsg{err}
		}
		slog.Debug("Loaded notebook", "path", path, "cells", doc.CellsCount)
		return documentMsg{doc}
	}
}

func (m model) execute(index int) tea.Cmd {
	ctx, runner, path, outputs := m.ctx, m.runner, m.path, m.outputs
	return func() tea.Msg {
		out, err := runner.Execute(ctx, path, index, executor.Options{OnOutput: stream(outputs)})
		return outcomeMsg{index: index, out: out, err: err}
	}
}

func (m model) executeAll() tea.Cmd {
	ctx, runner, path, outputs := m.ctx, m.runner, m.path, m.outputs
	return func() tea.Msg {
		out, err := runner.ExecuteAll(ctx, path, executor.Options{OnOutput: stream(outputs)})
		return allOutcomeMsg{out: out, err: err}
	}
}

func (m model) interrupt() tea.Cmd {
	ctx, reg := m.ctx, m.runner.Registry()
	return func() tea.Msg {
		if err := reg.Interrupt(ctx); err != nil {
			return errMsg{err}
		}
		return statusMsg("Interrupt sent")
	}
}

func (m model) saveCell(index int, source string) tea.Cmd {
	docs, path := m.docs, m.path
	return func() tea.Msg {
		if _, err := docs.ModifyCell(path, index, source); err != nil {
			return errMsg{err}
		}
		doc, err := docs.Read(path)
		if err != nil {
			return errMsg{err}
		}
		return documentMsg{doc}
	}
}

// stream forwards output summaries without blocking the drain loop.
func stream(ch chan<- string) func(notebook.Output) {
	return func(o notebook.Output) {
		select {
		case ch <- notebook.Summarize(o):
		default:
			slog.Debug("Dropping streamed output, view is behind")
		}
	}
}

func waitForOutput(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return outputMsg(s)
	}
}

// Run starts the browser and blocks until the user quits.
func Run(ctx context.Context, docs *service.Service, runner tools.Runner, target string) error {
	p := tea.NewProgram(New(ctx, docs, runner, target), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running terminal UI: %w", err)
	}
	return nil
}
