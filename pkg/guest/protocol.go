package guest

// Export names looked up by the host.
const (
	ExportAlloc         = "Alloc"
	ExportFree          = "Free"
	ExportHandleRequest = "HandleRequest"
	ExportHandleHook    = "HandleHook"
	ExportOnLoad        = "OnLoad"
	ExportOnUnload      = "OnUnload"
)

// Request is the JSON document passed to HandleRequest.
type Request struct {
	Path       string              `json:"path"`
	Method     string              `json:"method"`
	RemoteAddr string              `json:"remote_addr"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Form       map[string][]string `json:"form,omitempty"`
	Body       []byte              `json:"body,omitempty"`
	Session    map[string]string   `json:"session,omitempty"`
}

// Response is the JSON document returned by HandleRequest.
type Response struct {
	Claimed     bool              `json:"claimed"`
	Status      int               `json:"status,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	Body        string            `json:"body,omitempty"`
	Page        string            `json:"page,omitempty"`
	Data        map[string]any    `json:"data,omitempty"`
	Session     map[string]string `json:"session,omitempty"`
}

// HookCall is the JSON document passed to HandleHook.
type HookCall struct {
	Event string   `json:"event"`
	Args  []string `json:"args,omitempty"`
}
