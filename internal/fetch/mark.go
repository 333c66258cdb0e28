package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"gopkg.in/yaml.v3"
)

// Mark Protocol constants.
const (
	// MarkDefaultPort is the default port for Mark Protocol servers.
	MarkDefaultPort = 6309

	// MarkALPN is the application-layer protocol negotiation identifier.
	MarkALPN = "mark"

	verbFetch = "FETCH"
	statusOK  = "ok"
)

// maxMarkResponse bounds the size of a Mark Protocol response.
const maxMarkResponse = 10 << 20

// ParseMarkURL parses a mark:// URL and returns the host (with default port) and path.
func ParseMarkURL(raw string) (host, path string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "mark" {
		return "", "", fmt.Errorf("unsupported scheme: %s (expected mark://)", u.Scheme)
	}
	host = u.Host
	if u.Port() == "" {
		host = fmt.Sprintf("%s:%d", u.Hostname(), MarkDefaultPort)
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return host, path, nil
}

// markResponse is a parsed Mark Protocol response.
type markResponse struct {
	Status   string
	Metadata map[string]string
	Body     string
}

// writeMarkRequest writes a FETCH request for path in wire format.
func writeMarkRequest(w io.Writer, path string) error {
	_, err := fmt.Fprintf(w, "%s %s\n", verbFetch, path)
	return err
}

// parseMarkResponse reads a response from r.
// The response has optional YAML frontmatter delimited by "---" lines,
// followed by the markdown body.
func parseMarkResponse(r io.Reader) (markResponse, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxMarkResponse))
	if err != nil {
		return markResponse{}, fmt.Errorf("reading response: %w", err)
	}

	content := string(data)
	resp := markResponse{Metadata: make(map[string]string)}

	if !strings.HasPrefix(content, "---\n") {
		resp.Body = content
		return resp, nil
	}

	end := strings.Index(content[4:], "\n---\n")
	if end == -1 {
		return markResponse{}, fmt.Errorf("malformed frontmatter: missing closing ---")
	}
	fmData := content[4 : 4+end]
	resp.Body = content[4+end+5:] // skip past "\n---\n"

	if strings.TrimSpace(fmData) == "" {
		return resp, nil
	}

	// Parse as map[string]string to avoid YAML interpreting timestamps, numbers, etc.
	var raw map[string]string
	if err := yaml.Unmarshal([]byte(fmData), &raw); err != nil {
		return markResponse{}, fmt.Errorf("parsing frontmatter: %w", err)
	}
	for k, v := range raw {
		if k == "status" {
			resp.Status = v
		} else {
			resp.Metadata[k] = v
		}
	}
	return resp, nil
}

// markTransport performs Mark Protocol fetches over pooled QUIC connections.
type markTransport struct {
	tlsConf     *tls.Config
	dialTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*quic.Conn
}

func newMarkTransport(insecure bool, dialTimeout time.Duration) *markTransport {
	return &markTransport{
		tlsConf: &tls.Config{
			InsecureSkipVerify: insecure,
			NextProtos:         []string{MarkALPN},
		},
		dialTimeout: dialTimeout,
		conns:       make(map[string]*quic.Conn),
	}
}

// fetch retrieves the document at rawURL. Only status "ok" is a success.
func (t *markTransport) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	host, path, err := ParseMarkURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, err := t.getConn(ctx, host)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		t.removeConn(host)
		return nil, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	}

	var req bytes.Buffer
	if err := writeMarkRequest(&req, path); err != nil {
		return nil, err
	}
	if _, err := stream.Write(req.Bytes()); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	stream.Close()

	resp, err := parseMarkResponse(stream)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.Status != statusOK {
		return nil, fmt.Errorf("status %q", resp.Status)
	}
	return []byte(resp.Body), nil
}

func (t *markTransport) getConn(ctx context.Context, host string) (*quic.Conn, error) {
	t.mu.Lock()
	conn, ok := t.conns[host]
	t.mu.Unlock()

	if ok {
		if conn.Context().Err() == nil {
			return conn, nil
		}
		t.removeConn(host)
	}

	ctx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, host, t.tlsConf, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}

	t.mu.Lock()
	t.conns[host] = conn
	t.mu.Unlock()

	return conn, nil
}

func (t *markTransport) removeConn(host string) {
	t.mu.Lock()
	delete(t.conns, host)
	t.mu.Unlock()
}

// close closes all pooled connections.
func (t *markTransport) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for host, conn := range t.conns {
		conn.CloseWithError(0, "")
		delete(t.conns, host)
	}
}
