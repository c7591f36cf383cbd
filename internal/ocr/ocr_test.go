package ocr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNop(t *testing.T) {
	text, ok := Nop{}.ExtractText(context.Background(), []byte("img"))
	assert.False(t, ok)
	assert.Empty(t, text)
}

func TestHTTPProvider(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		image    []byte
		expected string
		ok       bool
	}{
		{
			name: "Text returned",
			handler: func(w http.ResponseWriter, r *http.Request) {
				body, _ := io.ReadAll(r.Body)
				assert.Equal(t, "png-bytes", string(body))
				w.Write([]byte(`{"text": "  MRP Rs. 50  "}`))
			},
			image:    []byte("png-bytes"),
			expected: "MRP Rs. 50",
			ok:       true,
		},
		{
			name: "Empty text",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"text": "   "}`))
			},
			image: []byte("x"),
		},
		{
			name: "Server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			image: []byte("x"),
		},
		{
			name: "Malformed response",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			},
			image: []byte("x"),
		},
		{
			name: "Empty image",
			handler: func(w http.ResponseWriter, r *http.Request) {
				t.Error("empty image should not be sent")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			p := NewHTTPProvider(srv.URL, time.Second, nil)
			text, ok := p.ExtractText(context.Background(), tt.image)

			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, text)
		})
	}
}
