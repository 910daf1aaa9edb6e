// Package validation checks names and metadata that reach the object store
// from untrusted callers, such as requests to the companion service.
package validation

import (
	"mime"
	"net/netip"
	"path"
	"strings"
	"unicode"

	"github.com/samber/lo"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

// S3 naming limits
const (
	MinBucketLength    = 3
	MaxBucketLength    = 63
	MaxKeyLength       = 1024
	MaxMetaKeyLength   = 128
	MaxMetaValueLength = 2048
)

var reservedMetaPrefixes = []string{"aws:", "x-amz-", "x-amz:"}

// BucketName checks that bucket is a DNS compliant S3 bucket name.
func BucketName(bucket string) error {
	fail := func(msg string) error {
		return errors.Invalid("validateBucketName", "bucket %q: %s", bucket, msg)
	}

	if len(bucket) < MinBucketLength || len(bucket) > MaxBucketLength {
		return fail("name must be between 3 and 63 characters long")
	}
	for _, r := range bucket {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '.' && r != '-' {
			return fail("name can only contain lowercase letters, numbers, dots and hyphens")
		}
	}
	first, last := bucket[0], bucket[len(bucket)-1]
	if first == '-' || first == '.' || last == '-' || last == '.' {
		return fail("name cannot start or end with a hyphen or dot")
	}
	if _, err := netip.ParseAddr(bucket); err == nil {
		return fail("name cannot be formatted as an IP address")
	}
	if strings.Contains(bucket, "..") || strings.Contains(bucket, "--") {
		return fail("name cannot contain two adjacent periods or hyphens")
	}
	if bucket == "localhost" {
		return fail("name is reserved")
	}
	return nil
}

// ObjectKey checks that key is a relative object key without traversal
// sequences or control characters.
func ObjectKey(key string) error {
	fail := func(msg string) error {
		return errors.Invalid("validateObjectKey", "key %q: %s", key, msg)
	}

	switch {
	case key == "":
		return fail("key cannot be empty")
	case len(key) > MaxKeyLength:
		return fail("key cannot exceed 1024 bytes")
	case strings.Contains(key, "..") || strings.HasPrefix(path.Clean(key), "/"):
		return fail("key cannot contain path traversal sequences")
	case strings.ContainsFunc(key, unicode.IsControl):
		return fail("key cannot contain control characters")
	}
	return nil
}

// Metadata checks user metadata keys and values against the S3 rules.
func Metadata(meta map[string]string) error {
	for key, value := range meta {
		if key == "" || len(key) > MaxMetaKeyLength {
			return errors.Invalid("validateMetadata", "metadata key %q must be 1 to 128 characters long", key)
		}
		lower := strings.ToLower(key)
		if lo.ContainsBy(reservedMetaPrefixes, func(p string) bool { return strings.HasPrefix(lower, p) }) {
			return errors.Invalid("validateMetadata", "metadata key %q uses a reserved prefix", key)
		}
		if strings.ContainsFunc(key, func(r rune) bool { return r < 33 || r > 126 }) {
			return errors.Invalid("validateMetadata", "metadata key %q must be printable ASCII without spaces", key)
		}
		if len(value) > MaxMetaValueLength {
			return errors.Invalid("validateMetadata", "metadata value of %q cannot exceed 2048 bytes", key)
		}
		if strings.ContainsFunc(value, func(r rune) bool { return !unicode.IsPrint(r) && r != '\t' }) {
			return errors.Invalid("validateMetadata", "metadata value of %q must be printable", key)
		}
	}
	return nil
}

// SanitizeMetadata returns a copy of meta without non-printable characters.
// Keys that are empty after cleaning are dropped.
func SanitizeMetadata(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for key, value := range meta {
		key = strings.Map(func(r rune) rune {
			if r < 33 || r > 126 {
				return -1
			}
			return r
		}, key)
		if key == "" {
			continue
		}
		out[key] = strings.Map(func(r rune) rune {
			if unicode.IsControl(r) && r != '\t' {
				return -1
			}
			return r
		}, value)
	}
	return out
}

// ContentType checks that contentType is empty or a parsable media type.
func ContentType(contentType string) error {
	if contentType == "" {
		return nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.Contains(mediaType, "/") {
		return errors.Invalid("validateContentType", "content type %q is not a valid media type", contentType)
	}
	return nil
}
