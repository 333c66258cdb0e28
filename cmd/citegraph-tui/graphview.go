package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/latebit/citegraph/internal/classify"
	"github.com/latebit/citegraph/internal/graph"
)

// viewMode selects what the viewport shows once a graph is built.
type viewMode int

const (
	viewTree viewMode = iota
	viewDetail
	viewReport
)

// treeItem is a tree node flattened for display.
type treeItem struct {
	url       string
	name      string
	title     string
	nodeType  string
	citations int
	depth     int
}

// tierColors follows the layout tiers, most authoritative first.
var tierColors = map[int]lipgloss.Color{
	1: lipgloss.Color("10"),
	2: lipgloss.Color("12"),
	3: lipgloss.Color("14"),
	4: lipgloss.Color("11"),
	5: lipgloss.Color("8"),
}

// flattenTree lists the nodes of root in depth-first order.
func flattenTree(root *graph.TreeNode) []treeItem {
	if root == nil {
		return nil
	}
	var items []treeItem
	var walk func(n *graph.TreeNode, depth int)
	walk = func(n *graph.TreeNode, depth int) {
		items = append(items, treeItem{
			url:       n.URL,
			name:      n.Name,
			title:     n.Title,
			nodeType:  n.Type,
			citations: n.Citations,
			depth:     depth,
		})
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(root, 0)
	return items
}

// renderTreeView renders the tree list as a string for the viewport.
func renderTreeView(items []treeItem, selectedIdx, width int) string {
	if len(items) == 0 {
		return "\n  No citations discovered.\n"
	}

	var b strings.Builder
	b.WriteString("\n  Citation Tree\n\n")

	for i, item := range items {
		label := item.title
		if label == "" {
			label = item.url
		}

		// Indentation: 4 spaces per depth level.
		indent := strings.Repeat("    ", item.depth)

		connector := ""
		if item.depth > 0 {
			connector = "├─ "
		}

		cursor := "  "
		if i == selectedIdx {
			cursor = "> "
		}

		line := fmt.Sprintf("%s%s%s%s %s", cursor, indent, connector, typeIcon(item.nodeType), label)
		if item.citations > 1 {
			line += fmt.Sprintf(" (%d)", item.citations)
		}

		if r := []rune(line); width > 5 && len(r) > width-2 {
			line = string(r[:width-5]) + "..."
		}

		style := lipgloss.NewStyle().Foreground(tierColor(item.nodeType))
		if i == selectedIdx {
			style = style.Bold(true)
		}
		b.WriteString(style.Render(line))
		b.WriteByte('\n')
	}

	b.WriteString("\n  [Enter] details  [m] metrics  [/] new url  [q] quit\n")
	return b.String()
}

func typeIcon(nodeType string) string {
	switch nodeType {
	case graph.TypeCycle:
		return "↺"
	case graph.TypeVirtual:
		return "◌"
	case graph.TypeSource:
		return "★"
	case string(classify.Government), string(classify.Academic), string(classify.Research):
		return "●"
	case string(classify.NewsHigh), string(classify.NewsMainstream), string(classify.NewsOther):
		return "◆"
	case string(classify.Social):
		return "○"
	default:
		return "·"
	}
}

func tierColor(nodeType string) lipgloss.Color {
	return tierColors[classify.Tier(nodeType)]
}

// renderDetail describes node id and its outgoing citations.
func renderDetail(g *graph.Graph, id string, width int) string {
	if g == nil {
		return ""
	}
	n, ok := g.Node(id)
	if !ok {
		return fmt.Sprintf("\n  %s is not in the graph.\n", id)
	}

	var b strings.Builder
	heading := lipgloss.NewStyle().Bold(true).Foreground(tierColor(n.Type()))
	b.WriteString("\n  " + heading.Render(orDefault(n.Attrs.String(graph.AttrTitle), id)) + "\n\n")

	fmt.Fprintf(&b, "  URL:       %s\n", orDefault(n.Attrs.String(graph.AttrURL), id))
	fmt.Fprintf(&b, "  Domain:    %s\n", orDefault(n.Attrs.String(graph.AttrDomain), "-"))
	fmt.Fprintf(&b, "  Type:      %s (tier %d)\n", orDefault(n.Type(), graph.TypeUnknown), classify.Tier(n.Type()))
	fmt.Fprintf(&b, "  Cited by:  %d\n", g.InDegree(id))

	var out []graph.Edge
	for _, e := range g.Edges() {
		if e.From == id {
			out = append(out, e)
		}
	}
	fmt.Fprintf(&b, "\n  Cites %d:\n", len(out))

	wrap := lipgloss.NewStyle().Width(max(width-8, 20)).Faint(true)
	for _, e := range out {
		conf, ok := e.Attrs.Float(graph.AttrConfidence)
		if !ok {
			conf = 0.5
		}
		fmt.Fprintf(&b, "    → %s (%s, %.2f)\n", e.To, orDefault(e.Type(), graph.TypeUnknown), conf)
		if claim := e.Attrs.String(graph.AttrClaim); claim != "" {
			b.WriteString(indentBlock(wrap.Render("claim: "+claim), "      ") + "\n")
		} else if ctx := e.Attrs.String(graph.AttrContext); ctx != "" {
			b.WriteString(indentBlock(wrap.Render(ctx), "      ") + "\n")
		}
	}

	b.WriteString("\n  [b] back  [q] quit\n")
	return b.String()
}

// metricsMarkdown renders m as a markdown report.
func metricsMarkdown(m graph.Metrics) string {
	var b strings.Builder
	b.WriteString("# Citation Metrics\n\n")
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Nodes | %d |\n", m.TotalNodes)
	fmt.Fprintf(&b, "| Edges | %d |\n", m.TotalEdges)
	fmt.Fprintf(&b, "| Max depth | %s |\n", m.DepthLabel())
	fmt.Fprintf(&b, "| Circular citations | %d |\n", m.CircularCitationsCount)

	if len(m.Bottlenecks) > 0 {
		b.WriteString("\n## Bottlenecks\n\n")
		for _, bn := range m.Bottlenecks {
			fmt.Fprintf(&b, "- `%s` cited by %d pages\n", bn.URL, bn.Citations)
		}
	}

	if len(m.CircularCitationsSample) > 0 {
		b.WriteString("\n## Cycles\n\n")
		for _, c := range m.CircularCitationsSample {
			fmt.Fprintf(&b, "- %s\n", strings.Join(c, " → "))
		}
	}

	if len(m.MostCited) > 0 {
		b.WriteString("\n## Most Cited\n\n")
		for _, c := range m.MostCited {
			if c.Citations == 0 {
				break
			}
			fmt.Fprintf(&b, "1. `%s` (%d)\n", c.URL, c.Citations)
		}
	}

	if len(m.UnsourcedNodes) > 0 {
		fmt.Fprintf(&b, "\n## Unsourced (%d)\n\n", len(m.UnsourcedNodes))
		for _, u := range m.UnsourcedNodes {
			fmt.Fprintf(&b, "- `%s`\n", u)
		}
	}
	return b.String()
}

// handleViewKey processes key events when the viewport has focus.
func (m model) handleViewKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "/":
		m.focus = focusAddressBar
		m.addressBar.Focus()
		return m, nil
	case "m":
		if m.graph != nil {
			m.viewMode = viewReport
			m.refresh()
		}
		return m, nil
	case "b", "esc":
		if m.viewMode != viewTree {
			m.viewMode = viewTree
			m.refresh()
		}
		return m, nil
	}

	if m.viewMode != viewTree {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "j", "down":
		if m.selIdx < len(m.items)-1 {
			m.selIdx++
			m.refresh()
		}
	case "k", "up":
		if m.selIdx > 0 {
			m.selIdx--
			m.refresh()
		}
	case "enter":
		if m.selIdx < len(m.items) {
			m.viewMode = viewDetail
			m.refresh()
			m.viewport.GotoTop()
		}
	}
	return m, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func indentBlock(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
