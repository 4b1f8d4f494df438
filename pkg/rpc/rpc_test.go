package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()
	req := NewRequest("m", map[string]any{"a": float64(1)}, "id-1")

	raw, err := Encode(req)
	require.NoError(t, err)

	got, err := DecodeRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, "m", got.Method)
	assert.Equal(t, map[string]any{"a": float64(1)}, got.Params)
	assert.Equal(t, "id-1", got.ID)
	assert.Equal(t, Version, got.JSONRPC)
}

func TestNewRequestGeneratesID(t *testing.T) {
	t.Parallel()
	a := NewRequest("m", nil, nil)
	b := NewRequest("m", nil, nil)
	require.NotNil(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestDecodeRequestRejectsMissingMethod(t *testing.T) {
	t.Parallel()
	_, err := DecodeRequest([]byte(`{"jsonrpc":"2.0","id":1}`))
	require.Error(t, err)
}

func TestDecodeRequestRejectsWrongVersion(t *testing.T) {
	t.Parallel()
	_, err := DecodeRequest([]byte(`{"jsonrpc":"1.0","method":"m","id":1}`))
	require.Error(t, err)
}

func TestResponseEnvelopes(t *testing.T) {
	t.Parallel()
	ok := NewResult(7, map[string]any{"status": "OK"})
	raw, err := Encode(ok)
	require.NoError(t, err)
	got, err := DecodeResponse(raw)
	require.NoError(t, err)
	assert.Nil(t, got.Error)
	assert.Equal(t, map[string]any{"status": "OK"}, got.Result)

	bad := NewErrorResponse(7, &Error{Code: 400, Message: "nope"})
	raw, err = Encode(bad)
	require.NoError(t, err)
	got, err = DecodeResponse(raw)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	errObj := got.Error.(map[string]any)
	assert.Equal(t, float64(400), errObj["code"])
	assert.Equal(t, "nope", errObj["message"])
}

func TestErrorFormatting(t *testing.T) {
	t.Parallel()
	err := Errorf(400, "field %q missing", "name")
	assert.Equal(t, 400, err.Code)
	assert.Contains(t, err.Error(), `"name"`)
}
