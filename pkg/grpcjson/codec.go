// Package grpcjson registers a JSON gRPC codec so hand-maintained plain Go
// structs can ride grpc.Server/grpc.ClientConn without a protoc-generated
// wire format. Used wherever this pack needs a gRPC service but the
// original protobuf IDL the teacher compiled against isn't present in the
// retrieved source (see DESIGN.md).
package grpcjson

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the codec's wire name, passed as the "content-subtype" in
// grpc.CallContentSubtype / grpc.ForceServerCodec.
const Name = "json"

func init() {
	encoding.RegisterCodec(codec{})
}

type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("grpcjson: marshal: %w", err)
	}
	return data, nil
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("grpcjson: unmarshal: %w", err)
	}
	return nil
}

func (codec) Name() string {
	return Name
}
