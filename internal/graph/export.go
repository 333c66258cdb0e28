package graph

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/latebit/citegraph/internal/classify"
)

// defaultConfidence is reported for edges that carry no confidence.
const defaultConfidence = 0.5

// ExportNode is the flattened form of a node consumed by visualization
// clients.
type ExportNode struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Domain    string `json:"domain"`
	Type      string `json:"type"`
	Tier      int    `json:"tier"`
	Citations int    `json:"citations"`
}

// ExportLink is the flattened form of an edge.
type ExportLink struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Context    string  `json:"context"`
}

// Export is the node/link list of a whole graph.
type Export struct {
	Nodes []ExportNode `json:"nodes"`
	Links []ExportLink `json:"links"`

	// Skipped holds one error per node that could not be exported.
	Skipped []error `json:"-"`
}

// IsVirtual reports whether id names a virtual node.
func IsVirtual(id string) bool {
	return strings.HasPrefix(id, strings.TrimSpace(VirtualPrefix))
}

// Flatten exports g. Nodes that cannot be exported are left out and reported
// in Skipped; citations is the in-degree at the time of the call.
func Flatten(g *Graph) Export {
	out := Export{Nodes: []ExportNode{}, Links: []ExportLink{}}

	for _, n := range g.Nodes() {
		en, err := exportNode(g, n)
		if err != nil {
			out.Skipped = append(out.Skipped, fmt.Errorf("node %q: %w", n.ID, err))
			continue
		}
		out.Nodes = append(out.Nodes, en)
	}

	for _, e := range g.Edges() {
		link := ExportLink{
			Source:     e.From,
			Target:     e.To,
			Type:       e.Type(),
			Confidence: defaultConfidence,
			Context:    e.Attrs.String(AttrContext),
		}
		if link.Type == "" {
			link.Type = TypeUnknown
		}
		if c, ok := e.Attrs.Float(AttrConfidence); ok {
			link.Confidence = c
		}
		out.Links = append(out.Links, link)
	}
	return out
}

func exportNode(g *Graph, n Node) (ExportNode, error) {
	domain := n.Attrs.String(AttrDomain)
	if domain == "" {
		if IsVirtual(n.ID) {
			domain = n.ID
		} else {
			u, err := url.Parse(n.ID)
			if err != nil {
				return ExportNode{}, fmt.Errorf("malformed node id: %w", err)
			}
			domain = u.Host
		}
	}

	title := n.Attrs.String(AttrTitle)
	if title == "" {
		title = n.ID
	}
	nodeType := n.Attrs.String(AttrType)
	if nodeType == "" {
		nodeType = TypeUnknown
	}

	return ExportNode{
		ID:        n.ID,
		Title:     title,
		Domain:    domain,
		Type:      nodeType,
		Tier:      classify.Tier(nodeType),
		Citations: g.InDegree(n.ID),
	}, nil
}
