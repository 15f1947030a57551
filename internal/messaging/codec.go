package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encoding selects the wire format of published messages.
type Encoding string

const (
	EncodingJSON  Encoding = "json"
	EncodingProto Encoding = "proto"
)

// ParseEncoding accepts "json" or "proto".
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case EncodingJSON, "":
		return EncodingJSON, nil
	case EncodingProto:
		return EncodingProto, nil
	default:
		return "", fmt.Errorf("unknown message encoding %q", s)
	}
}

// NewID returns a fresh message id.
func NewID() string {
	return uuid.NewString()
}

// ToStruct converts a JSON-tagged message into a protobuf Struct. Large
// integers are carried as strings by their json tags so they survive the
// float64 representation of Struct numbers.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// FromStruct fills v from a Struct produced by ToStruct.
func FromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Encode serializes v in encoding.
func Encode(encoding Encoding, v any) ([]byte, error) {
	if encoding == EncodingProto {
		s, err := ToStruct(v)
		if err != nil {
			return nil, err
		}
		return proto.Marshal(s)
	}
	return json.Marshal(v)
}

// Decode parses data produced by Encode into v.
func Decode(encoding Encoding, data []byte, v any) error {
	if encoding == EncodingProto {
		var s structpb.Struct
		if err := proto.Unmarshal(data, &s); err != nil {
			return err
		}
		return FromStruct(&s, v)
	}
	return json.Unmarshal(data, v)
}
