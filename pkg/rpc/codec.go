package rpc

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Encode marshals an envelope (or any payload) to JSON.
func Encode(v any) ([]byte, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("rpc encode: %w", err)
	}
	return b, nil
}

// Decode unmarshals JSON into v.
func Decode(data []byte, v any) error {
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc decode: %w", err)
	}
	return nil
}

// DecodeRequest parses a request envelope and checks the protocol version.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := Decode(data, &req); err != nil {
		return Request{}, err
	}
	if req.JSONRPC != "" && req.JSONRPC != Version {
		return Request{}, fmt.Errorf("rpc decode: unsupported version %q", req.JSONRPC)
	}
	if req.Method == "" {
		return Request{}, fmt.Errorf("rpc decode: method is required")
	}
	return req, nil
}

// DecodeResponse parses a response envelope.
func DecodeResponse(data []byte) (Response, error) {
	var res Response
	if err := Decode(data, &res); err != nil {
		return Response{}, err
	}
	return res, nil
}
