package urlnorm

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	base, err := url.Parse("https://shop.test/shop/page/2/")
	require.NoError(t, err)

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr bool
	}{
		{name: "relative path", ref: "../../../product/mug/", want: "https://shop.test/product/mug/"},
		{name: "root relative", ref: "/product/cap/", want: "https://shop.test/product/cap/"},
		{name: "absolute", ref: "https://cdn.test/img.jpg", want: "https://cdn.test/img.jpg"},
		{name: "protocol relative", ref: "//cdn.test/a.png", want: "https://cdn.test/a.png"},
		{name: "fragment removed", ref: "/product/cap/#reviews", want: "https://shop.test/product/cap/"},
		{name: "whitespace trimmed", ref: "  /product/cap/  ", want: "https://shop.test/product/cap/"},
		{name: "empty", ref: "", wantErr: true},
		{name: "anchor only", ref: "#top", wantErr: true},
		{name: "javascript", ref: "javascript:void(0)", wantErr: true},
		{name: "mailto", ref: "mailto:shop@shop.test", wantErr: true},
		{name: "data uri", ref: "data:image/gif;base64,R0lGOD", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(base, tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveWithoutBaseRequiresAbsolute(t *testing.T) {
	_, err := Resolve(nil, "/product/cap/")
	assert.ErrorIs(t, err, ErrNotHTTP)

	got, err := Resolve(nil, "http://shop.test/product/cap/")
	require.NoError(t, err)
	assert.Equal(t, "http://shop.test/product/cap/", got)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercase host", in: "HTTPS://Shop.Test/product/mug/", want: "https://shop.test/product/mug"},
		{name: "default port", in: "https://shop.test:443/product/mug", want: "https://shop.test/product/mug"},
		{name: "tracking stripped", in: "https://shop.test/product/mug/?utm_source=x&fbclid=abc", want: "https://shop.test/product/mug"},
		{name: "query sorted and kept", in: "https://shop.test/?p=12&b=2&utm_medium=mail", want: "https://shop.test/?b=2&p=12"},
		{name: "fragment dropped", in: "https://shop.test/product/mug#tab", want: "https://shop.test/product/mug"},
		{name: "root path", in: "https://shop.test", want: "https://shop.test/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdentity(t *testing.T) {
	a := Normalize("https://shop.test/product/mug/?utm_campaign=spring")
	b := Normalize("https://SHOP.test/product/mug")
	assert.Equal(t, a, b)
}

func TestSameHost(t *testing.T) {
	assert.True(t, SameHost("https://shop.test/a", "http://www.shop.test/b"))
	assert.False(t, SameHost("https://shop.test/a", "https://other.test/a"))
	assert.False(t, SameHost("::bad", "https://shop.test"))
}
