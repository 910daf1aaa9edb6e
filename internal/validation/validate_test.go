package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

func TestBucketName(t *testing.T) {
	tests := []struct {
		name    string
		bucket  string
		wantErr bool
	}{
		{"valid_simple", "my-bucket", false},
		{"valid_with_dots", "my.bucket", false},
		{"valid_leading_digit", "1bucket", false},
		{"valid_min_length", "abc", false},
		{"valid_max_length", strings.Repeat("a", 63), false},
		{"empty", "", true},
		{"too_short", "ab", true},
		{"too_long", strings.Repeat("a", 64), true},
		{"starts_with_hyphen", "-bucket", true},
		{"ends_with_dot", "bucket.", true},
		{"uppercase", "MyBucket", true},
		{"underscore", "my_bucket", true},
		{"ip_address", "192.168.1.1", true},
		{"double_dots", "my..bucket", true},
		{"double_hyphens", "my--bucket", true},
		{"reserved", "localhost", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := BucketName(tt.bucket)
			if tt.wantErr {
				assert.True(t, errors.IsInvalidInput(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"simple", "uploads/a.txt", false},
		{"unicode", "uploads/ファイル.txt", false},
		{"max_length", strings.Repeat("k", 1024), false},
		{"empty", "", true},
		{"too_long", strings.Repeat("k", 1025), true},
		{"traversal", "uploads/../secret", true},
		{"absolute", "/etc/passwd", true},
		{"control", "uploads/a\x00.txt", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ObjectKey(tt.key)
			if tt.wantErr {
				assert.True(t, errors.IsInvalidInput(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMetadata(t *testing.T) {
	tests := []struct {
		name    string
		meta    map[string]string
		wantErr bool
	}{
		{"nil", nil, false},
		{"valid", map[string]string{"name": "a.txt", "owner": "forge team"}, false},
		{"empty_key", map[string]string{"": "v"}, true},
		{"long_key", map[string]string{strings.Repeat("k", 129): "v"}, true},
		{"reserved_prefix", map[string]string{"X-Amz-Meta": "v"}, true},
		{"space_in_key", map[string]string{"my key": "v"}, true},
		{"long_value", map[string]string{"k": strings.Repeat("v", 2049)}, true},
		{"newline_in_value", map[string]string{"k": "a\nb"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Metadata(tt.meta)
			if tt.wantErr {
				assert.True(t, errors.IsInvalidInput(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeMetadata(t *testing.T) {
	assert.Nil(t, SanitizeMetadata(nil))
	assert.Equal(t,
		map[string]string{"name": "ab", "tab": "a\tb"},
		SanitizeMetadata(map[string]string{"na me": "a\nb", "tab": "a\tb", "\x01": "dropped"}),
	)
}

func TestContentType(t *testing.T) {
	for _, ct := range []string{"", "text/plain", "text/plain; charset=utf-8", "application/vnd.api+json"} {
		assert.NoError(t, ContentType(ct), ct)
	}
	for _, ct := range []string{"text", "not a type", "/plain"} {
		assert.True(t, errors.IsInvalidInput(ContentType(ct)), ct)
	}
}
