package main

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/latebit/citegraph/internal/app"
	"github.com/latebit/citegraph/internal/graph"
)

const (
	rootURL = "https://blog.example.com/post"
	govURL  = "https://www.bls.gov/cpi"
	newsURL = "https://www.reuters.com/story"
)

// testGraph is root -> gov, root -> news, news -> gov, gov -> root.
func testGraph() *graph.Graph {
	g := graph.New()
	g.AddNode(rootURL, graph.Attrs{graph.AttrTitle: "Post", graph.AttrDomain: "blog.example.com", graph.AttrType: "social", graph.AttrURL: rootURL})
	g.AddNode(govURL, graph.Attrs{graph.AttrTitle: "CPI", graph.AttrDomain: "www.bls.gov", graph.AttrType: "government", graph.AttrURL: govURL})
	g.AddNode(newsURL, graph.Attrs{graph.AttrType: "news_high", graph.AttrURL: newsURL})
	g.AddEdge(rootURL, govURL, graph.Attrs{graph.AttrType: graph.EdgeExplicit, graph.AttrConfidence: 0.9, graph.AttrContext: "Prices rose 3%."})
	g.AddEdge(rootURL, newsURL, graph.Attrs{graph.AttrType: graph.EdgeDiscovered, graph.AttrConfidence: 0.7, graph.AttrClaim: "Rates were cut."})
	g.AddEdge(newsURL, govURL, graph.Attrs{graph.AttrType: graph.EdgeExplicit})
	g.AddEdge(govURL, rootURL, graph.Attrs{graph.AttrType: graph.EdgeExplicit})
	return g
}

func TestFlattenTreeNil(t *testing.T) {
	if items := flattenTree(nil); items != nil {
		t.Errorf("expected nil, got %d items", len(items))
	}
}

func TestFlattenTreeDepthFirst(t *testing.T) {
	items := flattenTree(graph.Tree(graph.Flatten(testGraph())))

	want := []struct {
		url      string
		nodeType string
		depth    int
	}{
		{rootURL, "social", 0},
		{govURL, "government", 1},
		{rootURL, graph.TypeCycle, 2},
		{newsURL, "news_high", 1},
		{govURL, graph.TypeCycle, 2},
	}
	if len(items) != len(want) {
		t.Fatalf("expected %d items, got %d: %+v", len(want), len(items), items)
	}
	for i, w := range want {
		if items[i].url != w.url || items[i].nodeType != w.nodeType || items[i].depth != w.depth {
			t.Errorf("items[%d] = %+v, want %+v", i, items[i], w)
		}
	}
	if items[1].citations != 2 {
		t.Errorf("gov citations = %d, want 2", items[1].citations)
	}
}

func TestRenderTreeViewEmpty(t *testing.T) {
	result := renderTreeView(nil, 0, 80)
	if !strings.Contains(result, "No citations discovered") {
		t.Errorf("expected empty message, got %q", result)
	}
}

func TestRenderTreeViewCursor(t *testing.T) {
	items := []treeItem{
		{url: rootURL, title: "Post", nodeType: "social", depth: 0},
		{url: govURL, title: "CPI", nodeType: "government", depth: 1},
	}
	result := renderTreeView(items, 1, 80)

	lines := strings.Split(result, "\n")
	var selected string
	for _, l := range lines {
		if strings.HasPrefix(l, "> ") {
			selected = l
		}
	}
	if !strings.Contains(selected, "CPI") {
		t.Errorf("cursor on %q, want the CPI line", selected)
	}
}

func TestRenderTreeViewIndentation(t *testing.T) {
	items := []treeItem{
		{url: rootURL, title: "Post", depth: 0},
		{url: govURL, title: "CPI", depth: 1},
		{url: newsURL, title: "Story", depth: 2},
	}
	result := renderTreeView(items, 0, 80)

	if !strings.Contains(result, "    ├─ ") {
		t.Error("expected depth 1 indentation with connector")
	}
	if !strings.Contains(result, "        ├─ ") {
		t.Error("expected depth 2 indentation with connector")
	}
}

func TestRenderTreeViewFallsBackToURL(t *testing.T) {
	items := []treeItem{{url: newsURL, nodeType: "news_high"}}
	result := renderTreeView(items, 0, 120)
	if !strings.Contains(result, newsURL) {
		t.Errorf("expected URL label, got %q", result)
	}
}

func TestRenderTreeViewTruncates(t *testing.T) {
	items := []treeItem{{url: "https://example.com/" + strings.Repeat("x", 200)}}
	result := renderTreeView(items, 0, 40)
	for _, l := range strings.Split(result, "\n") {
		if strings.Contains(l, "example.com") && !strings.HasSuffix(l, "...") {
			t.Errorf("expected truncated line, got %q", l)
		}
	}
}

func TestTypeIcon(t *testing.T) {
	tests := []struct {
		nodeType string
		want     string
	}{
		{graph.TypeCycle, "↺"},
		{graph.TypeVirtual, "◌"},
		{graph.TypeSource, "★"},
		{"government", "●"},
		{"research", "●"},
		{"news_mainstream", "◆"},
		{"social", "○"},
		{"commercial", "·"},
		{"", "·"},
	}
	for _, tt := range tests {
		if got := typeIcon(tt.nodeType); got != tt.want {
			t.Errorf("typeIcon(%q) = %q, want %q", tt.nodeType, got, tt.want)
		}
	}
}

func TestRenderDetail(t *testing.T) {
	result := renderDetail(testGraph(), rootURL, 100)

	for _, want := range []string{
		"Post",
		"Domain:    blog.example.com",
		"Type:      social (tier 5)",
		"Cited by:  1",
		"Cites 2:",
		"→ " + govURL + " (explicit, 0.90)",
		"→ " + newsURL + " (discovered, 0.70)",
		"claim: Rates were cut.",
		"Prices rose 3%.",
	} {
		if !strings.Contains(result, want) {
			t.Errorf("detail missing %q:\n%s", want, result)
		}
	}
}

func TestRenderDetailMissingNode(t *testing.T) {
	result := renderDetail(testGraph(), "https://nowhere.example/", 80)
	if !strings.Contains(result, "not in the graph") {
		t.Errorf("got %q", result)
	}
}

func TestMetricsMarkdown(t *testing.T) {
	g := testGraph()
	g.AddEdge("https://a.example/", govURL, nil)
	g.AddEdge("https://a.example/", "https://z.example/", nil)
	report := metricsMarkdown(graph.Analyze(g))

	for _, want := range []string{
		"# Citation Metrics",
		"| Nodes | 5 |",
		"| Edges | 6 |",
		"| Max depth | Contains Cycles |",
		"## Bottlenecks",
		"`" + govURL + "` cited by 3 pages",
		"## Cycles",
		"## Most Cited",
		"1. `" + govURL + "` (3)",
		"## Unsourced (1)",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestMetricsMarkdownAcyclic(t *testing.T) {
	g := graph.New()
	g.AddEdge(rootURL, govURL, nil)
	report := metricsMarkdown(graph.Analyze(g))

	if !strings.Contains(report, "| Max depth | 1 |") {
		t.Errorf("expected depth 1:\n%s", report)
	}
	if strings.Contains(report, "## Cycles") || strings.Contains(report, "## Bottlenecks") {
		t.Errorf("unexpected sections:\n%s", report)
	}
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func builtModel(t *testing.T) model {
	t.Helper()
	m := initialModel("", &app.Stack{Backend: "none"})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	next, _ = next.Update(buildResult{graph: testGraph(), seq: 0})
	return next.(model)
}

func TestBuildResultShowsTree(t *testing.T) {
	m := builtModel(t)

	if m.building {
		t.Error("still building")
	}
	if m.viewMode != viewTree || m.focus != focusViewport {
		t.Errorf("viewMode = %d, focus = %d", m.viewMode, m.focus)
	}
	if len(m.items) != 5 {
		t.Errorf("items = %d, want 5", len(m.items))
	}
	if !strings.Contains(m.statusBarView(), "3 nodes") {
		t.Errorf("status bar = %q", m.statusBarView())
	}
}

func TestStaleBuildResultIgnored(t *testing.T) {
	m := builtModel(t)
	m.buildSeq = 2

	next, _ := m.Update(buildResult{graph: graph.New(), seq: 1})
	if got := len(next.(model).items); got != 5 {
		t.Errorf("stale result replaced the tree: %d items", got)
	}
}

func TestNavigation(t *testing.T) {
	var tm tea.Model = builtModel(t)

	tm, _ = tm.Update(keyRunes("j"))
	tm, _ = tm.Update(keyRunes("j"))
	tm, _ = tm.Update(keyRunes("k"))
	if got := tm.(model).selIdx; got != 1 {
		t.Fatalf("selIdx = %d, want 1", got)
	}

	tm, _ = tm.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m := tm.(model)
	if m.viewMode != viewDetail {
		t.Fatalf("viewMode = %d, want detail", m.viewMode)
	}
	if !strings.Contains(m.viewport.View(), "CPI") {
		t.Errorf("detail view = %q", m.viewport.View())
	}

	tm, _ = tm.Update(keyRunes("b"))
	if tm.(model).viewMode != viewTree {
		t.Error("expected tree view after back")
	}

	tm, _ = tm.Update(keyRunes("m"))
	if tm.(model).viewMode != viewReport {
		t.Error("expected report view")
	}
}

func TestNavigationBounds(t *testing.T) {
	var tm tea.Model = builtModel(t)
	tm, _ = tm.Update(keyRunes("k"))
	if got := tm.(model).selIdx; got != 0 {
		t.Errorf("selIdx = %d, want 0", got)
	}
	for range 10 {
		tm, _ = tm.Update(keyRunes("j"))
	}
	if got := tm.(model).selIdx; got != 4 {
		t.Errorf("selIdx = %d, want 4", got)
	}
}

func TestQuit(t *testing.T) {
	_, cmd := builtModel(t).Update(keyRunes("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestSlashFocusesAddressBar(t *testing.T) {
	tm, _ := builtModel(t).Update(keyRunes("/"))
	if tm.(model).focus != focusAddressBar {
		t.Error("expected address bar focus")
	}
	// Typing goes to the address bar, not the tree.
	tm, _ = tm.Update(keyRunes("q"))
	if got := tm.(model).addressBar.Value(); got != "q" {
		t.Errorf("address bar = %q", got)
	}
}

func TestProgressListener(t *testing.T) {
	ch := make(chan progressMsg, 1)
	l := progressListener(ch, 7)

	l.NodeAdded(graph.Node{ID: "a"})
	l.NodeAdded(graph.Node{ID: "a"}) // dropped, channel full
	if got := <-ch; got != (progressMsg{nodes: 1, edges: 0, seq: 7}) {
		t.Errorf("got %+v", got)
	}

	l.EdgeAdded(graph.Edge{From: "a", To: "b"})
	if got := <-ch; got != (progressMsg{nodes: 1, edges: 1, seq: 7}) {
		t.Errorf("got %+v", got)
	}
}

func TestWaitForProgressClosed(t *testing.T) {
	ch := make(chan progressMsg)
	close(ch)
	if msg := waitForProgress(ch)(); msg != nil {
		t.Errorf("got %v, want nil", msg)
	}
}
