// Package response provides the default parsers for object store responses.
//
// S3 POST policy uploads answer with an XML document describing the stored
// object, S3 errors are XML documents with a Message element, presigned PUT
// uploads answer with an empty body, and signing services usually answer with
// JSON. The parsers here cover all of them.
package response

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"mime"
	"net/http"
	"strings"
)

// xmlFields maps the S3 result elements to their body keys.
var xmlFields = map[string]string{
	"Location": "location",
	"Bucket":   "bucket",
	"Key":      "key",
	"ETag":     "etag",
}

// IsXML reports whether the response carries an XML document.
func IsXML(raw []byte, header http.Header) bool {
	contentType := ""
	if header != nil {
		contentType = header.Get("Content-Type")
	}
	if contentType == "" {
		return false
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}

	switch mediaType {
	case "application/xml", "text/xml":
		return true
	case "text/html":
		return bytes.HasPrefix(raw, []byte("<?xml "))
	}
	return false
}

func isJSON(raw []byte, header http.Header) bool {
	if header != nil {
		if mediaType, _, err := mime.ParseMediaType(header.Get("Content-Type")); err == nil && mediaType == "application/json" {
			return true
		}
	}
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// Parse is the default response body parser.
//
// XML documents yield location, bucket, key and etag. JSON objects are decoded
// as is. Any other body of a PUT request yields the request URL without its
// query string as location, which is where a presigned PUT stores the object.
func Parse(raw []byte, resp *http.Response) map[string]any {
	var header http.Header
	if resp != nil {
		header = resp.Header
	}

	if IsXML(raw, header) {
		return parseXMLFields(raw)
	}

	if isJSON(raw, header) {
		body := make(map[string]any)
		if err := json.Unmarshal(raw, &body); err == nil {
			return body
		}
	}

	body := make(map[string]any)
	if resp != nil && resp.Request != nil && resp.Request.URL != nil && resp.Request.Method == http.MethodPut {
		u := *resp.Request.URL
		u.RawQuery = ""
		u.Fragment = ""
		body["location"] = u.String()
	}
	return body
}

// ParseError is the default error message parser. It returns the Message
// element of XML errors, or the message or error field of JSON errors.
func ParseError(raw []byte, resp *http.Response) string {
	var header http.Header
	if resp != nil {
		header = resp.Header
	}

	if IsXML(raw, header) {
		return xmlValue(raw, "Message")
	}

	if isJSON(raw, header) {
		var body struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(raw, &body); err == nil {
			if body.Message != "" {
				return body.Message
			}
			return body.Error
		}
	}
	return ""
}

// parseXMLFields extracts the first occurrence of each known element.
func parseXMLFields(raw []byte) map[string]any {
	body := make(map[string]any)
	dec := xml.NewDecoder(bytes.NewReader(raw))

	var current string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			current = t.Name.Local
		case xml.CharData:
			key, ok := xmlFields[current]
			if !ok {
				continue
			}
			if _, seen := body[key]; !seen {
				body[key] = string(bytes.TrimSpace(t))
			}
		case xml.EndElement:
			current = ""
		}
	}
	return body
}

// xmlValue returns the text of the first element with the given name.
func xmlValue(raw []byte, name string) string {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	inside := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inside = t.Name.Local == name
		case xml.CharData:
			if inside {
				return string(bytes.TrimSpace(t))
			}
		case xml.EndElement:
			inside = false
		}
	}
}

// StringField returns body[name] when it is a non-empty string.
func StringField(body map[string]any, name string) string {
	if body == nil || name == "" {
		return ""
	}
	s, _ := body[name].(string)
	return s
}
