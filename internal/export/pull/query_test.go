package pull

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNames(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "empty", query: "", want: nil},
		{name: "single", query: "name[]=up", want: []string{"up"}},
		{
			name:  "repeated",
			query: "name[]=up&name[]=go_goroutines",
			want:  []string{"up", "go_goroutines"},
		},
		{
			name:  "encoded key and value",
			query: "name%5B%5D=a%20b&name%5B%5D=c%2Bd",
			want:  []string{"a b", "c+d"},
		},
		{name: "plus decodes to space", query: "name[]=a+b", want: []string{"a b"}},
		{name: "missing equals ignored", query: "name[]&name[]=x", want: []string{"x"}},
		{name: "other params ignored", query: "debug=1&name=x&name[]=y", want: []string{"y"}},
		{name: "bad escape ignored", query: "name[]=%zz&name[]=ok", want: []string{"ok"}},
		{name: "empty value kept", query: "name[]=", want: []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseNames(tt.query))
		})
	}
}

func TestAcceptsGzip(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    bool
	}{
		{name: "absent", headers: nil, want: false},
		{name: "plain", headers: []string{"gzip"}, want: true},
		{name: "list", headers: []string{"deflate, GZip ,br"}, want: true},
		{name: "second header", headers: []string{"br", "gzip"}, want: true},
		{name: "identity", headers: []string{"identity"}, want: false},
		{name: "substring does not match", headers: []string{"xgzip"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for _, v := range tt.headers {
				h.Add("Accept-Encoding", v)
			}

			assert.Equal(t, tt.want, acceptsGzip(h))
		})
	}
}
