package httpclient

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/sentinel-apiclient/abstractions"
)

func TestDecodeParameterNames(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		chars []byte
		want  string
	}{
		{
			name:  "given encoded dollar in name, then decodes it",
			url:   "https://api.example.com/users?%24select=name&%24top=5",
			chars: DefaultDecodedCharacters,
			want:  "https://api.example.com/users?$select=name&$top=5",
		},
		{
			name:  "given lowercase hex, then decodes it",
			url:   "https://api.example.com/users?api%2eversion=2",
			chars: DefaultDecodedCharacters,
			want:  "https://api.example.com/users?api.version=2",
		},
		{
			name:  "given encoded character in value, then keeps the value encoded",
			url:   "https://api.example.com/users?%24filter=a%24b",
			chars: DefaultDecodedCharacters,
			want:  "https://api.example.com/users?$filter=a%24b",
		},
		{
			name:  "given character outside the set, then keeps it encoded",
			url:   "https://api.example.com/users?a%26b=1",
			chars: DefaultDecodedCharacters,
			want:  "https://api.example.com/users?a%26b=1",
		},
		{
			name:  "given fragment, then keeps it",
			url:   "https://api.example.com/users?%7Eid=1#top",
			chars: DefaultDecodedCharacters,
			want:  "https://api.example.com/users?~id=1#top",
		},
		{
			name:  "given no query, then returns url unchanged",
			url:   "https://api.example.com/us%24ers",
			chars: DefaultDecodedCharacters,
			want:  "https://api.example.com/us%24ers",
		},
		{
			name:  "given truncated escape, then keeps it",
			url:   "https://api.example.com/users?name%2",
			chars: DefaultDecodedCharacters,
			want:  "https://api.example.com/users?name%2",
		},
		{
			name:  "given empty character set, then returns url unchanged",
			url:   "https://api.example.com/users?%24top=5",
			chars: nil,
			want:  "https://api.example.com/users?%24top=5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeParameterNames(tt.url, tt.chars)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, DecodeParameterNames(got, tt.chars), "decoding must be idempotent")
		})
	}
}

func TestParametersNameDecodingHandler_Handle(t *testing.T) {
	tests := []struct {
		name string
		opts abstractions.RequestOptions
		want string
	}{
		{
			name: "given default option, then sends decoded names",
			want: "$select=name&api-version=2",
		},
		{
			name: "given disabled per-call option, then sends names as built",
			opts: abstractions.NewRequestOptions(&ParametersNameDecodingOption{Enabled: false}),
			want: "%24select=name&api%2Dversion=2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := NewMockTransport().StubResponse(http.StatusOK, "")
			p, _ := newTestPipeline(mock)

			req := newRequest(t, http.MethodGet, "https://api.example.com/users?%24select=name&api%2Dversion=2", nil)
			_, err := p.Handle(req, tt.opts)
			require.NoError(t, err)

			last, ok := mock.LastRequest()
			require.True(t, ok)
			assert.Equal(t, tt.want, last.URL.RawQuery)
		})
	}
}
