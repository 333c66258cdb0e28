package fetch

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseMarkURL(t *testing.T) {
	tests := []struct {
		raw      string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		{"mark://example.com/doc.md", "example.com:6309", "/doc.md", false},
		{"mark://example.com:7000/a/b.md", "example.com:7000", "/a/b.md", false},
		{"mark://example.com", "example.com:6309", "/", false},
		{"https://example.com/doc", "", "", true},
		{"mark://%zz", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			host, path, err := ParseMarkURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if host != tt.wantHost || path != tt.wantPath {
				t.Errorf("got (%q, %q), want (%q, %q)", host, path, tt.wantHost, tt.wantPath)
			}
		})
	}
}

func TestWriteMarkRequest(t *testing.T) {
	var buf bytes.Buffer
	if err := writeMarkRequest(&buf, "/docs/index.md"); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "FETCH /docs/index.md\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestParseMarkResponse(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantStatus string
		wantMeta   map[string]string
		wantBody   string
		wantErr    bool
	}{
		{
			name:       "frontmatter and body",
			input:      "---\nstatus: ok\nversion: \"3\"\nmodified: 2025-02-14T10:30:00Z\n---\n# Hello\n",
			wantStatus: "ok",
			wantMeta:   map[string]string{"version": "3", "modified": "2025-02-14T10:30:00Z"},
			wantBody:   "# Hello\n",
		},
		{
			name:       "not found",
			input:      "---\nstatus: not-found\n---\n",
			wantStatus: "not-found",
			wantMeta:   map[string]string{},
		},
		{
			name:     "no frontmatter",
			input:    "# Just a body",
			wantMeta: map[string]string{},
			wantBody: "# Just a body",
		},
		{
			name:     "empty frontmatter",
			input:    "---\n\n---\nbody",
			wantMeta: map[string]string{},
			wantBody: "body",
		},
		{
			name:    "unterminated frontmatter",
			input:   "---\nstatus: ok\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			input:   "---\n: [\n---\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseMarkResponse(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
			if resp.Body != tt.wantBody {
				t.Errorf("body = %q, want %q", resp.Body, tt.wantBody)
			}
			if len(resp.Metadata) != len(tt.wantMeta) {
				t.Errorf("metadata = %v, want %v", resp.Metadata, tt.wantMeta)
			}
			for k, v := range tt.wantMeta {
				if resp.Metadata[k] != v {
					t.Errorf("metadata[%q] = %q, want %q", k, resp.Metadata[k], v)
				}
			}
		})
	}
}
