package mcp

import "strings"

// NamespacedName returns the catalog name for an externally discovered tool:
// "servername__toolname". The server name is sanitized to lowercase
// alphanumeric and hyphens so the joint never collides with the separator.
func NamespacedName(serverName, toolName string) string {
	return sanitizeName(serverName) + "__" + toolName
}

// ParseNamespacedName splits a namespaced tool name into server and tool
// parts. Returns ("", "", false) if the name is not namespaced.
func ParseNamespacedName(name string) (server, tool string, ok bool) {
	idx := strings.Index(name, "__")
	if idx <= 0 {
		return "", "", false
	}
	server = name[:idx]
	tool = name[idx+2:]
	if tool == "" {
		return "", "", false
	}
	return server, tool, true
}

// sanitizeName lowercases and replaces non-alphanumeric characters with hyphens.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
