// Package wire moves request and response DTOs in and out of
// google.protobuf.Struct, the payload used by protobuf-speaking devices
// over HTTP and by the gRPC service.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ToStruct converts a JSON-tagged value into a Struct. v must encode as a
// JSON object.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("wire: %T is not an object: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into v through its JSON form. Unknown fields are
// rejected, matching the JSON endpoints.
func FromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		return fmt.Errorf("wire: empty payload")
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return DecodeJSON(b, v)
}

// DecodeJSON decodes a single JSON object into v, rejecting unknown fields.
func DecodeJSON(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
