package lakehouse

import (
	"encoding/json"
	"fmt"
)

// PayloadKind identifies which variant of the payload union a row carries.
type PayloadKind string

const (
	// PayloadStructured is a typed column mapping from a tabular source.
	PayloadStructured PayloadKind = "structured"
	// PayloadSemiStructured is a nested document, stored as raw JSON.
	PayloadSemiStructured PayloadKind = "semi_structured"
	// PayloadUnstructured is opaque bytes plus a content type, preserved
	// byte-for-byte through Bronze.
	PayloadUnstructured PayloadKind = "unstructured"
)

// Payload is a tagged union over the row shapes Bronze accepts. Downstream
// code switches on Kind rather than probing the content.
type Payload struct {
	kind        PayloadKind
	structured  map[string]any
	document    json.RawMessage
	raw         []byte
	contentType string
}

// NewStructuredPayload wraps a typed column mapping.
func NewStructuredPayload(columns map[string]any) Payload {
	return Payload{kind: PayloadStructured, structured: columns}
}

// NewSemiStructuredPayload wraps a nested JSON document.
func NewSemiStructuredPayload(doc json.RawMessage) Payload {
	return Payload{kind: PayloadSemiStructured, document: doc}
}

// NewUnstructuredPayload wraps opaque bytes with their content type.
func NewUnstructuredPayload(data []byte, contentType string) Payload {
	return Payload{kind: PayloadUnstructured, raw: data, contentType: contentType}
}

// Kind returns the payload variant.
func (p Payload) Kind() PayloadKind { return p.kind }

// Structured returns the column mapping for structured payloads.
func (p Payload) Structured() map[string]any { return p.structured }

// Document returns the raw JSON for semi-structured payloads.
func (p Payload) Document() json.RawMessage { return p.document }

// Unstructured returns the opaque bytes and content type for unstructured
// payloads.
func (p Payload) Unstructured() ([]byte, string) { return p.raw, p.contentType }

// IsZero reports whether the payload carries no variant at all.
func (p Payload) IsZero() bool { return p.kind == "" }

type payloadJSON struct {
	Kind        PayloadKind     `json:"kind"`
	Structured  map[string]any  `json:"structured,omitempty"`
	Document    json.RawMessage `json:"document,omitempty"`
	Raw         []byte          `json:"raw,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
}

// MarshalJSON serializes the Payload into a JSON byte array.
func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(&payloadJSON{
		Kind:        p.kind,
		Structured:  p.structured,
		Document:    p.document,
		Raw:         p.raw,
		ContentType: p.contentType,
	})
}

// UnmarshalJSON deserializes JSON data into a Payload.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var aux payloadJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	switch aux.Kind {
	case PayloadStructured:
		*p = NewStructuredPayload(aux.Structured)
	case PayloadSemiStructured:
		*p = NewSemiStructuredPayload(aux.Document)
	case PayloadUnstructured:
		*p = NewUnstructuredPayload(aux.Raw, aux.ContentType)
	case "":
		*p = Payload{}
	default:
		return fmt.Errorf("unknown payload kind: %s", aux.Kind)
	}

	return nil
}
