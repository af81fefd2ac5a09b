package mcp

import "testing"

func TestNamespacedName(t *testing.T) {
	tests := []struct {
		name       string
		serverName string
		toolName   string
		want       string
	}{
		{
			name:       "simple names",
			serverName: "fs",
			toolName:   "read_file",
			want:       "fs__read_file",
		},
		{
			name:       "server name with uppercase",
			serverName: "MyServer",
			toolName:   "do_thing",
			want:       "myserver__do_thing",
		},
		{
			name:       "server name with special characters",
			serverName: "my.server_name",
			toolName:   "list",
			want:       "my-server-name__list",
		},
		{
			name:       "hyphenated server",
			serverName: "my-db",
			toolName:   "query",
			want:       "my-db__query",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NamespacedName(tt.serverName, tt.toolName)
			if got != tt.want {
				t.Errorf("NamespacedName(%q, %q) = %q, want %q", tt.serverName, tt.toolName, got, tt.want)
			}
		})
	}
}

func TestParseNamespacedName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantServer string
		wantTool   string
		wantOK     bool
	}{
		{
			name:       "valid namespaced tool",
			input:      "fs__read_file",
			wantServer: "fs",
			wantTool:   "read_file",
			wantOK:     true,
		},
		{
			name:       "built-in with single underscores",
			input:      "web_search",
			wantServer: "",
			wantTool:   "",
			wantOK:     false,
		},
		{
			name:       "no separator",
			input:      "lookup",
			wantServer: "",
			wantTool:   "",
			wantOK:     false,
		},
		{
			name:       "empty server name",
			input:      "__tool",
			wantServer: "",
			wantTool:   "",
			wantOK:     false,
		},
		{
			name:       "double underscore inside tool name",
			input:      "db__get__item",
			wantServer: "db",
			wantTool:   "get__item",
			wantOK:     true,
		},
		{
			name:       "empty tool name after server",
			input:      "server__",
			wantServer: "",
			wantTool:   "",
			wantOK:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, tool, ok := ParseNamespacedName(tt.input)
			if ok != tt.wantOK {
				t.Errorf("ParseNamespacedName(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if server != tt.wantServer {
				t.Errorf("ParseNamespacedName(%q) server = %q, want %q", tt.input, server, tt.wantServer)
			}
			if tool != tt.wantTool {
				t.Errorf("ParseNamespacedName(%q) tool = %q, want %q", tt.input, tool, tt.wantTool)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	name := NamespacedName("my-server", "do_thing")
	server, tool, ok := ParseNamespacedName(name)
	if !ok {
		t.Fatalf("ParseNamespacedName(%q) returned ok=false", name)
	}
	if server != "my-server" {
		t.Errorf("server = %q, want %q", server, "my-server")
	}
	if tool != "do_thing" {
		t.Errorf("tool = %q, want %q", tool, "do_thing")
	}
}
