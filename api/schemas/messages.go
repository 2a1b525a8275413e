package schemas

import "encoding/json"

// MessageType identifies one logical frame on the duplex channel to the
// browser extension.
type MessageType string

// Inbound frame types.
const (
	MsgFormExtracted    MessageType = "form_extracted"
	MsgFillForm         MessageType = "fill_form"
	MsgExtractionResult MessageType = "extraction_result"
	MsgUpdateField      MessageType = "update_field"
	MsgConnectCDP       MessageType = "connect_cdp"
	MsgPing             MessageType = "ping"
	MsgStatus           MessageType = "status"
)

// Outbound frame types.
const (
	MsgRequestExtraction MessageType = "request_extraction"
	MsgAnalyzing         MessageType = "analyzing"
	MsgFilling           MessageType = "filling"
	MsgFillProgress      MessageType = "fill_progress"
	MsgFormAnalysis      MessageType = "form_analysis"
	MsgFillResult        MessageType = "fill_result"
	MsgError             MessageType = "error"
	MsgPong              MessageType = "pong"
	MsgCDPConnected      MessageType = "cdp_connected"
	MsgFieldUpdated      MessageType = "field_updated"
)

// Frame is the wire envelope. Data carries the type-specific payload and
// is decoded lazily by the dispatcher.
type Frame struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ExtractionResultPayload is the body of an extraction_result frame.
type ExtractionResultPayload struct {
	RequestID string        `json:"request_id"`
	Data      ExtractedForm `json:"data"`
}

// FieldUpdatePayload is the body of an update_field frame. The engine is
// stateless across fill commands; edits live in the extension UI and the
// frame is acknowledged only.
type FieldUpdatePayload struct {
	Selector    string `json:"selector"`
	MappedValue string `json:"mapped_value"`
	ProfilePath string `json:"profile_path,omitempty"`
}
