package adminapi

import (
	"encoding/json"
	"fmt"
)

// jsonCodec lets this gRPC service exchange plain Go structs over the wire
// instead of requiring protoc-generated proto.Message types. The admin API
// is an internal factory-test fixture, not a cross-team wire contract, and a
// technician can read a JSON payload off the unix socket with grpcurl.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("adminapi: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("adminapi: unmarshal: %w", err)
	}
	return nil
}
