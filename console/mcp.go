package console

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/dashctl/kit"
)

// RegisterMCP registers the dashctl tools on an MCP server.
func (c *Console) RegisterMCP(srv *mcp.Server) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dashctl_show",
		Description: "Make one dashboard section visible and hide every other one. Returns the previous section and a diagnosis of the new one.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Section id"},
		}, []string{"id"}),
	}, c.endpoint("show", c.showEndpoint), kit.DecodeJSON[ShowRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dashctl_diagnose",
		Description: "Read the live visibility state of a section (classes, inline style, computed display/opacity/visibility, card count). Omit id to diagnose every section.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Section id (optional)"},
		}, nil),
	}, c.endpoint("diagnose", c.diagnoseEndpoint), kit.DecodeJSON[DiagnoseRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dashctl_sections",
		Description: "List registered sections and the active one.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, c.endpoint("sections", c.sectionsEndpoint), kit.DecodeJSON[struct{}]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dashctl_theme_get",
		Description: "Return the stored theme preference (light or dark).",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, c.endpoint("theme_get", c.themeGetEndpoint), kit.DecodeJSON[struct{}]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dashctl_theme_set",
		Description: "Persist and apply a theme preference.",
		InputSchema: inputSchema(map[string]any{
			"theme": map[string]any{"type": "string", "enum": []any{"light", "dark"}},
		}, []string{"theme"}),
	}, c.endpoint("theme_set", c.themeSetEndpoint), kit.DecodeJSON[ThemeRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dashctl_theme_toggle",
		Description: "Flip the theme preference between light and dark.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, c.endpoint("theme_toggle", c.themeToggleEndpoint), kit.DecodeJSON[struct{}]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dashctl_journal",
		Description: "Recent section activations, newest first.",
		InputSchema: inputSchema(map[string]any{
			"section_id": map[string]any{"type": "string", "description": "Only this section"},
			"limit":      map[string]any{"type": "integer", "description": "Max entries (default 50)"},
		}, nil),
	}, c.endpoint("journal", c.journalEndpoint), kit.DecodeJSON[JournalRequest]())
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
