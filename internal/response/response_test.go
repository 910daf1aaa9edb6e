package response

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsXML(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        bool
	}{
		{"application/xml", "application/xml", "<a/>", true},
		{"text/xml with charset", "text/xml; charset=utf-8", "<a/>", true},
		{"html with xml prolog", "text/html", `<?xml version="1.0"?><a/>`, true},
		{"plain html", "text/html", "<html></html>", false},
		{"json", "application/json", "{}", false},
		{"no content type", "", "<a/>", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.contentType != "" {
				h.Set("Content-Type", tt.contentType)
			}
			assert.Equal(t, tt.want, IsXML([]byte(tt.body), h))
		})
	}
}

func TestParse(t *testing.T) {
	putURL, _ := url.Parse("https://bucket.s3.amazonaws.com/uploads/a.txt?X-Amz-Signature=abc")

	tests := []struct {
		name string
		raw  string
		resp *http.Response
		want map[string]any
	}{
		{
			name: "post policy xml",
			raw: `<?xml version="1.0" encoding="UTF-8"?>
<PostResponse><Location>https://x/y</Location><Bucket>b</Bucket><Key>uploads/y</Key><ETag>"abc"</ETag></PostResponse>`,
			resp: &http.Response{Header: http.Header{"Content-Type": {"application/xml"}}},
			want: map[string]any{"location": "https://x/y", "bucket": "b", "key": "uploads/y", "etag": `"abc"`},
		},
		{
			name: "json body",
			raw:  `{"location":"https://x/y","size":3}`,
			resp: &http.Response{Header: http.Header{"Content-Type": {"application/json"}}},
			want: map[string]any{"location": "https://x/y", "size": float64(3)},
		},
		{
			name: "empty put response",
			raw:  "",
			resp: &http.Response{
				Header:  http.Header{},
				Request: &http.Request{Method: http.MethodPut, URL: putURL},
			},
			want: map[string]any{"location": "https://bucket.s3.amazonaws.com/uploads/a.txt"},
		},
		{
			name: "empty post response",
			raw:  "",
			resp: &http.Response{Header: http.Header{}, Request: &http.Request{Method: http.MethodPost, URL: putURL}},
			want: map[string]any{},
		},
		{
			name: "nil response",
			raw:  "",
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse([]byte(tt.raw), tt.resp))
		})
	}
}

func TestParseError(t *testing.T) {
	xmlResp := &http.Response{Header: http.Header{"Content-Type": {"application/xml"}}}
	jsonResp := &http.Response{Header: http.Header{"Content-Type": {"application/json"}}}

	assert.Equal(t, "Access Denied",
		ParseError([]byte(`<Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`), xmlResp))
	assert.Equal(t, "bad part", ParseError([]byte(`{"message":"bad part"}`), jsonResp))
	assert.Equal(t, "nope", ParseError([]byte(`{"error":"nope"}`), jsonResp))
	assert.Equal(t, "", ParseError([]byte("oops"), &http.Response{Header: http.Header{}}))
}

func TestStringField(t *testing.T) {
	body := map[string]any{"location": "https://x/y", "size": 3}
	assert.Equal(t, "https://x/y", StringField(body, "location"))
	assert.Equal(t, "", StringField(body, "size"))
	assert.Equal(t, "", StringField(nil, "location"))
	assert.Equal(t, "", StringField(body, ""))
}
