// Package protocol defines the JSON message vocabulary exchanged between a
// tiledeck host and its clients, plus the payload types carried inside it.
package protocol

import "encoding/json"

// Message types sent by the host.
const (
	TypeHello   = "hello"
	TypeLayout  = "layout"
	TypeLang    = "lang"
	TypeMetrics = "metrics"

	TypeFileStart = "file_start"
	TypeFileChunk = "file_chunk"
	TypeFileEnd   = "file_end"

	TypePCFileOffer = "pc_file_offer"
	TypePCFileBegin = "pc_file_begin"
	TypePCFileChunk = "pc_file_chunk"
	TypePCFileEnd   = "pc_file_end"
)

// Message types sent by the client.
const (
	TypeAction       = "action"
	TypePCFileAccept = "pc_file_accept"
	TypePCFileReject = "pc_file_reject"
)

// Message is the envelope for every frame on the wire. One struct covers the
// whole vocabulary; unused fields stay zero and are omitted when encoding.
type Message struct {
	Type string `json:"type"`

	// hello / lang
	Lang    string         `json:"lang,omitempty"`
	PCName  string         `json:"pcName,omitempty"`
	Actions []CatalogEntry `json:"actions,omitempty"`

	// hello / layout
	Layout *Layout `json:"layout,omitempty"`

	// action
	ActionID string `json:"actionId,omitempty"`

	// file transfer (both sub-protocols)
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
	Seq  *int   `json:"seq,omitempty"`
	Data string `json:"data,omitempty"`

	// metrics (flattened onto the envelope)
	Metrics
}

// SeqValue returns the chunk sequence number, or -1 when the frame carried
// none. A chunk with no sequence never matches an expected sequence.
func (m *Message) SeqValue() int {
	if m.Seq == nil {
		return -1
	}
	return *m.Seq
}

// Encode marshals a message to a single JSON text frame.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a frame. Malformed JSON or a frame without a type yields
// ok=false; callers drop the frame and keep listening. Unknown type values
// decode fine and are left to the dispatcher to ignore.
func Decode(data []byte) (*Message, bool) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	if m.Type == "" {
		return nil, false
	}
	return &m, true
}
