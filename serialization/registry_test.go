package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodeFactoryRegistry_GetRootParseNode(t *testing.T) {
	registry := DefaultParseNodeFactoryRegistry()

	tests := []struct {
		name        string
		contentType string
		body        string
		wantErr     assert.ErrorAssertionFunc
	}{
		{
			name:        "given json with charset parameter, then uses json factory",
			contentType: "application/json; charset=utf-8",
			body:        `{"id":1}`,
			wantErr:     assert.NoError,
		},
		{
			name:        "given vendor specific json, then falls back to json factory",
			contentType: "application/vnd.example.user+json",
			body:        `{"id":1}`,
			wantErr:     assert.NoError,
		},
		{
			name:        "given upper case media type, then matches",
			contentType: "TEXT/PLAIN",
			body:        `hello`,
			wantErr:     assert.NoError,
		},
		{
			name:        "given unknown media type, then returns unsupported error",
			contentType: "application/xml",
			body:        `<a/>`,
			wantErr: func(t assert.TestingT, err error, _ ...interface{}) bool {
				return assert.ErrorIs(t, err, ErrUnsupportedContentType)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node, err := registry.GetRootParseNode(tt.contentType, []byte(tt.body))
			tt.wantErr(t, err)
			if err == nil {
				assert.NotNil(t, node)
			}
		})
	}
}

func TestParseNodeFactoryRegistry_Register(t *testing.T) {
	registry, err := NewParseNodeFactoryRegistry(NewJSONParseNodeFactory())
	require.NoError(t, err)

	_, err = registry.GetRootParseNode(CBORContentType, []byte{0xa0})
	require.ErrorIs(t, err, ErrUnsupportedContentType)

	require.NoError(t, registry.Register(NewCBORParseNodeFactory()))
	node, err := registry.GetRootParseNode(CBORContentType, []byte{0xa0})
	require.NoError(t, err)
	assert.NotNil(t, node)

	_, err = registry.GetValidContentType()
	assert.ErrorIs(t, err, ErrRegistryContentType)
}
