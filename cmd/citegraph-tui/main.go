package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/latebit/citegraph/internal/app"
	"github.com/latebit/citegraph/internal/config"
	"github.com/latebit/citegraph/internal/crawl"
	"github.com/latebit/citegraph/internal/graph"
	"github.com/latebit/citegraph/internal/logging"
)

type focus int

const (
	focusAddressBar focus = iota
	focusViewport
)

type model struct {
	addressBar textinput.Model
	viewport   viewport.Model
	spinner    spinner.Model
	focus      focus
	viewMode   viewMode

	stack    *app.Stack
	building bool
	buildSeq uint64
	cancel   context.CancelFunc
	progress <-chan progressMsg
	nodes    int
	edges    int

	graph   *graph.Graph
	export  graph.Export
	metrics graph.Metrics
	items   []treeItem
	selIdx  int
	err     error

	width  int
	height int
	ready  bool
}

// progressMsg reports the size of the graph under construction.
type progressMsg struct {
	nodes, edges int
	seq          uint64
}

// buildResult is sent when the async build completes.
type buildResult struct {
	graph *graph.Graph
	err   error
	seq   uint64
}

func initialModel(initialURL string, stack *app.Stack) model {
	ti := textinput.New()
	ti.Placeholder = "https://example.com/article"
	ti.Prompt = " "
	ti.SetValue(initialURL)
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return model{
		addressBar: ti,
		spinner:    sp,
		focus:      focusAddressBar,
		stack:      stack,
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.addressBar.Value() != "" {
		cmds = append(cmds, func() tea.Msg { return tea.KeyMsg{Type: tea.KeyEnter} })
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		headerHeight := 2 // address bar + divider
		footerHeight := 1 // status bar
		viewportHeight := max(m.height-headerHeight-footerHeight, 1)

		if !m.ready {
			m.viewport = viewport.New(m.width, viewportHeight)
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = viewportHeight
		}
		m.addressBar.Width = m.width - 2
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.building {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		if msg.seq != m.buildSeq {
			return m, nil
		}
		m.nodes, m.edges = msg.nodes, msg.edges
		return m, waitForProgress(m.progress)

	case buildResult:
		if msg.seq != m.buildSeq {
			return m, nil
		}
		m.building = false
		m.cancel = nil
		m.err = msg.err
		m.setGraph(msg.graph)
		m.viewMode = viewTree
		m.focus = focusViewport
		m.addressBar.Blur()
		m.refresh()
		return m, nil
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.stopBuild()
		return m, tea.Quit
	case tea.KeyTab:
		return m.toggleFocus(), nil
	}

	if m.focus == focusAddressBar {
		switch msg.Type {
		case tea.KeyEnter:
			raw := strings.TrimSpace(m.addressBar.Value())
			if raw == "" {
				return m, nil
			}
			return m.startBuild(raw)
		case tea.KeyEscape:
			m.focus = focusViewport
			m.addressBar.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.addressBar, cmd = m.addressBar.Update(msg)
		return m, cmd
	}

	if msg.String() == "q" {
		m.stopBuild()
		return m, tea.Quit
	}
	return m.handleViewKey(msg)
}

func (m model) toggleFocus() model {
	if m.focus == focusAddressBar {
		m.focus = focusViewport
		m.addressBar.Blur()
	} else {
		m.focus = focusAddressBar
		m.addressBar.Focus()
	}
	return m
}

// startBuild cancels any running build and starts a new one for rootURL.
func (m model) startBuild(rootURL string) (tea.Model, tea.Cmd) {
	m.stopBuild()
	m.buildSeq++
	m.building = true
	m.err = nil
	m.nodes, m.edges = 0, 0

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	progress := make(chan progressMsg, 1)
	m.progress = progress

	seq := m.buildSeq
	collab := m.stack.Collaborators
	collab.Listeners = append(collab.Listeners, progressListener(progress, seq))
	builder := crawl.New(collab, m.stack.Options)

	build := func() tea.Msg {
		g, err := builder.Build(ctx, rootURL)
		close(progress)
		return buildResult{graph: g, err: err, seq: seq}
	}
	return m, tea.Batch(build, waitForProgress(progress), m.spinner.Tick)
}

func (m *model) stopBuild() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// progressListener publishes running totals, dropping updates the UI has not
// consumed yet.
func progressListener(ch chan progressMsg, seq uint64) graph.Listener {
	seen := make(map[string]bool)
	var edges int
	send := func() {
		msg := progressMsg{nodes: len(seen), edges: edges, seq: seq}
		select {
		case ch <- msg:
		default:
		}
	}
	return graph.ListenerFuncs{
		OnNode: func(n graph.Node) {
			seen[n.ID] = true
			send()
		},
		OnEdge: func(graph.Edge) {
			edges++
			send()
		},
	}
}

func waitForProgress(ch <-chan progressMsg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// setGraph stores a finished graph and its derived views.
func (m *model) setGraph(g *graph.Graph) {
	m.graph = g
	m.items = nil
	m.selIdx = 0
	if g == nil {
		return
	}
	m.export = graph.Flatten(g)
	m.metrics = graph.Analyze(g)
	m.items = flattenTree(graph.Tree(m.export))
}

// refresh renders the active view into the viewport.
func (m *model) refresh() {
	if !m.ready {
		return
	}
	switch m.viewMode {
	case viewDetail:
		if m.selIdx < len(m.items) {
			m.viewport.SetContent(renderDetail(m.graph, m.items[m.selIdx].url, m.width))
		}
	case viewReport:
		report := metricsMarkdown(m.metrics)
		if rendered, err := renderMarkdown(report, m.width); err == nil {
			report = rendered
		}
		m.viewport.SetContent(report)
		m.viewport.GotoTop()
	default:
		m.viewport.SetContent(renderTreeView(m.items, m.selIdx, m.width))
	}
}

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder

	barStyle := lipgloss.NewStyle().
		Padding(0, 1).
		Width(m.width)
	if m.focus == focusAddressBar {
		barStyle = barStyle.Bold(true)
	}
	b.WriteString(barStyle.Render(m.addressBar.View()))
	b.WriteByte('\n')

	b.WriteString(strings.Repeat("─", m.width))
	b.WriteByte('\n')

	b.WriteString(m.viewport.View())
	b.WriteByte('\n')

	b.WriteString(m.statusBarView())

	return b.String()
}

func (m model) statusBarView() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Padding(0, 1)

	if m.building {
		return style.Render(fmt.Sprintf("%s Building... %d nodes, %d edges", m.spinner.View(), m.nodes, m.edges))
	}
	if m.err != nil {
		return style.Foreground(lipgloss.Color("9")).Render("Error: " + m.err.Error())
	}
	if m.graph == nil {
		return style.Faint(true).Render("Enter a URL and press Enter")
	}

	parts := []string{
		fmt.Sprintf("%d nodes", m.metrics.TotalNodes),
		fmt.Sprintf("%d edges", m.metrics.TotalEdges),
		"depth " + m.metrics.DepthLabel(),
		"llm " + m.stack.Backend,
		fmt.Sprintf("%d%%", int(m.viewport.ScrollPercent()*100)),
	}
	return style.Render(strings.Join(parts, "  "))
}

func renderMarkdown(body string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return "", err
	}
	return r.Render(body)
}

func main() {
	cfg, cfgErr := config.NewConfig()
	noCache := flag.Bool("no-cache", cfg.NoCache, "disable the page cache")
	depth := flag.Int("depth", cfg.MaxDepth, "maximum expansion depth")
	flag.Parse()

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", cfgErr)
	}
	cfg.NoCache = *noCache
	cfg.MaxDepth = *depth

	// The terminal belongs to the UI, so build logs are dropped.
	stack, err := app.New(context.Background(), cfg, logging.Discard())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer stack.Close()

	initialURL := ""
	if flag.NArg() > 0 {
		initialURL = flag.Arg(0)
	}

	p := tea.NewProgram(
		initialModel(initialURL, stack),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
