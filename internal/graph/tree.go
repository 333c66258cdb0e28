package graph

// TreeNode is a hierarchical view of an exported graph for tree layouts.
type TreeNode struct {
	Name      string      `json:"name"`
	URL       string      `json:"url"`
	Type      string      `json:"type"`
	Title     string      `json:"title,omitempty"`
	Citations int         `json:"citations"`
	Children  []*TreeNode `json:"children,omitempty"`
}

// TypeCycle marks a tree leaf that points back at an already expanded node.
const TypeCycle = "cycle"

// Tree unfolds exp into a tree rooted at its first node, which is the build
// root. A node reached a second time becomes a TypeCycle leaf. Returns nil
// for an empty export.
func Tree(exp Export) *TreeNode {
	if len(exp.Nodes) == 0 {
		return nil
	}

	nodes := make(map[string]ExportNode, len(exp.Nodes))
	for _, n := range exp.Nodes {
		nodes[n.ID] = n
	}
	children := make(map[string][]string)
	for _, l := range exp.Links {
		children[l.Source] = append(children[l.Source], l.Target)
	}

	visited := make(map[string]bool)
	var build func(id string) *TreeNode
	build = func(id string) *TreeNode {
		n, ok := nodes[id]
		if !ok {
			n = ExportNode{ID: id, Domain: "Unknown", Type: TypeUnknown}
		}
		if visited[id] {
			return &TreeNode{Name: n.Domain, URL: id, Type: TypeCycle}
		}
		visited[id] = true

		t := &TreeNode{
			Name:      n.Domain,
			URL:       id,
			Type:      n.Type,
			Title:     n.Title,
			Citations: n.Citations,
		}
		for _, child := range children[id] {
			t.Children = append(t.Children, build(child))
		}
		return t
	}
	return build(exp.Nodes[0].ID)
}
