package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/latebit/citegraph/internal/classify"
	"github.com/latebit/citegraph/internal/crawl"
	"github.com/latebit/citegraph/internal/graph"
)

const (
	sessionHeader = "X-Session-Id"
	eventBuffer   = 64
)

// Event names of the progress stream.
const (
	EventStatus   = "status"
	EventNode     = "node"
	EventEdge     = "edge"
	EventComplete = "complete"
	EventError    = "error"
)

type analyzeRequest struct {
	URL string `json:"url"`
}

// Summary is the short metrics block sent with a finished graph.
type Summary struct {
	Nodes    int  `json:"nodes"`
	Edges    int  `json:"edges"`
	MaxDepth *int `json:"max_depth"`
}

// NodeEvent reports an added or updated node.
type NodeEvent struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type"`
	Tier  int    `json:"tier"`
}

// EdgeEvent reports an added edge.
type EdgeEvent struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// CompleteEvent carries the finished graph.
type CompleteEvent struct {
	Message string       `json:"message"`
	Metrics Summary      `json:"metrics"`
	Graph   graph.Export `json:"graph"`
}

type event struct {
	name string
	data any
}

// emitter queues events for the stream. Events are dropped once the client
// is gone.
type emitter struct {
	ctx context.Context
	ch  chan<- event
}

func (e emitter) emit(name string, data any) {
	select {
	case e.ch <- event{name: name, data: data}:
	case <-e.ctx.Done():
	}
}

func (e emitter) listener() graph.Listener {
	return graph.ListenerFuncs{
		OnNode: func(n graph.Node) { e.emit(EventNode, nodeEvent(n)) },
		OnEdge: func(ed graph.Edge) { e.emit(EventEdge, edgeEvent(ed)) },
	}
}

func bindURL(c *gin.Context) (string, bool) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL is required"})
		return "", false
	}
	return req.URL, true
}

// analyze streams the progress of a build as server-sent events, ending
// with a complete or an error event.
func (s *Server) analyze(c *gin.Context) {
	rootURL, ok := bindURL(c)
	if !ok {
		return
	}

	sessionID := uuid.NewString()
	log := s.log.With("session", sessionID, "url", rootURL)
	log.Info("analysis started")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events := make(chan event, eventBuffer)
	em := emitter{ctx: ctx, ch: events}

	go func() {
		defer close(events)
		em.emit(EventStatus, gin.H{"message": "Starting analysis...", "url": rootURL})
		em.emit(EventStatus, gin.H{"message": fmt.Sprintf("Scraping %s...", rootURL)})

		g, err := s.build(ctx, rootURL, em.listener())
		if err != nil {
			log.Warn("analysis failed", "err", err)
			em.emit(EventError, gin.H{"message": err.Error()})
			return
		}
		log.Info("analysis complete", "nodes", g.NodeCount(), "edges", g.EdgeCount())
		m, exp := analyzeGraph(log, g)
		em.emit(EventComplete, CompleteEvent{
			Message: "Analysis complete!",
			Metrics: summarize(m),
			Graph:   exp,
		})
	}()

	c.Header(sessionHeader, sessionID)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		c.SSEvent(ev.name, ev.data)
		return true
	})
}

// quickAnalyze builds the graph and returns it in one response.
func (s *Server) quickAnalyze(c *gin.Context) {
	rootURL, ok := bindURL(c)
	if !ok {
		return
	}

	g, err := s.build(c.Request.Context(), rootURL)
	switch {
	case errors.Is(err, crawl.ErrInvalidRoot):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.log.Warn("quick analysis failed", "url", rootURL, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	m, exp := analyzeGraph(s.log.With("url", rootURL), g)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"graph":   exp,
		"metrics": summarize(m),
	})
}

// analyzeGraph computes metrics and the export of g, logging what they left out.
func analyzeGraph(log *slog.Logger, g *graph.Graph) (graph.Metrics, graph.Export) {
	m := graph.Analyze(g)
	if m.CycleErr != nil {
		log.Warn("cycle enumeration failed", "err", m.CycleErr)
	}
	exp := graph.Flatten(g)
	for _, err := range exp.Skipped {
		log.Warn("skipping node in export", "err", err)
	}
	return m, exp
}

func summarize(m graph.Metrics) Summary {
	return Summary{Nodes: m.TotalNodes, Edges: m.TotalEdges, MaxDepth: m.MaxDepth}
}

func nodeEvent(n graph.Node) NodeEvent {
	ev := NodeEvent{
		ID:    n.ID,
		Title: n.Attrs.String(graph.AttrTitle),
		URL:   n.Attrs.String(graph.AttrURL),
		Type:  n.Type(),
	}
	if ev.Title == "" {
		ev.Title = n.ID
	}
	if ev.URL == "" {
		ev.URL = n.ID
	}
	if ev.Type == "" {
		ev.Type = graph.TypeUnknown
	}
	ev.Tier = classify.Tier(ev.Type)
	return ev
}

func edgeEvent(e graph.Edge) EdgeEvent {
	ev := EdgeEvent{Source: e.From, Target: e.To, Type: e.Type(), Confidence: 0.5}
	if ev.Type == "" {
		ev.Type = graph.TypeUnknown
	}
	if c, ok := e.Attrs.Float(graph.AttrConfidence); ok {
		ev.Confidence = c
	}
	return ev
}
