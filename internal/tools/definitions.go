package tools

import "encoding/json"

const (
	WebSearch          = "web_search"
	WebFetch           = "web_fetch"
	GetConfigInfo      = "get_config_info"
	SwitchModel        = "switch_model"
	ToggleBuiltinTools = "toggle_builtin_tools"
)

// Definition is a tool as advertised by tools/list.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

var definitions = []Definition{
	{
		Name: WebSearch,
		Description: `Performs a third-party web search based on the given query and returns the results as a JSON string.

The query should be a clear, self-contained natural-language search query. When helpful, include constraints such as topic, time range, language, or domain.
The platform names the platforms to focus on, such as "Twitter", "GitHub" or "Reddit".
min_results and max_results bound the number of results to return.`,
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search query (max 2000 characters)"},
    "platform": {"type": "string", "description": "Platform hint (e.g., \"twitter\", \"github\", \"reddit\")", "default": ""},
    "min_results": {"type": "integer", "description": "Minimum number of results (1-50, default 3)", "minimum": 1, "maximum": 50, "default": 3},
    "max_results": {"type": "integer", "description": "Maximum number of results (1-100, default 10)", "minimum": 1, "maximum": 100, "default": 10}
  },
  "required": ["query"]
}`),
	},
	{
		Name: WebFetch,
		Description: `Fetches and extracts the complete content from a specified URL and returns it as a structured Markdown document.

The url should be a complete HTTP/HTTPS address that is accessible without authentication or paywalls.
The result keeps the original content hierarchy (text, images, links, tables, code blocks) and drops scripts, styles and other non-content elements.`,
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "url": {"type": "string", "description": "URL to fetch (must be http or https)"}
  },
  "required": ["url"]
}`),
	},
	{
		Name: GetConfigInfo,
		Description: `Returns the current Grok Search MCP server configuration and tests the connection to the /models endpoint.

The API key is masked. The result includes api_url, api_key, model, debug_enabled, log_level, log_dir, config_file, config_status and connection_test.`,
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
	},
	{
		Name: SwitchModel,
		Description: `Switches the Grok model used for search and fetch operations and persists the setting.

Returns status, previous_model, current_model, message and config_file.`,
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "model": {"type": "string", "description": "Model name to switch to (e.g., \"grok-4-fast\", \"grok-2-latest\")"}
  },
  "required": ["model"]
}`),
	},
	{
		Name: ToggleBuiltinTools,
		Description: `Toggles the client's built-in WebSearch and WebFetch tools.

action: "on" blocks the built-in tools, "off" allows them, "status" reports the current state.
Returns JSON with the current status and deny list.`,
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "action": {"type": "string", "description": "Action: \"on\", \"off\", or \"status\"", "default": "status"}
  }
}`),
	},
}

// Definitions returns every tool in a stable order.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}
