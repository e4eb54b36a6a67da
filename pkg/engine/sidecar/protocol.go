package sidecar

import "encoding/json"

// Wire operations understood by the engine sidecar process.
const (
	opVersion       = "version"
	opDetectPII     = "detect_pii"
	opMaskText      = "mask_text"
	opAuditSecurity = "audit_security"
)

// request is one line-delimited JSON message sent to the sidecar's stdin.
type request struct {
	ID   string `json:"id"`
	Op   string `json:"op"`
	Text string `json:"text,omitempty"`
	Path string `json:"path,omitempty"`
}

// response is one line-delimited JSON message read from the sidecar's stdout.
// Result carries the op-specific payload; Error is set when OK is false.
type response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
