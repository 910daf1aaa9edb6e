// Package signer holds what the signing collaborators share. Implementations
// live in the subpackages.
package signer

import (
	"cmp"
	"path"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/input-output-hk/catalyst-forge-libs/upload/uploadtypes"
)

// ObjectKey returns a unique object key for the file under prefix. The file
// name is reduced to its base name.
func ObjectKey(prefix string, file *uploadtypes.File) string {
	name := path.Base(strings.ReplaceAll(file.Name, "\\", "/"))
	if name == "." || name == "/" {
		name = "file"
	}
	return prefix + uuid.NewString() + "-" + name
}

// SortParts returns the parts ordered by part number.
func SortParts(parts []uploadtypes.CompletedPart) []uploadtypes.CompletedPart {
	out := slices.Clone(parts)
	slices.SortFunc(out, func(a, b uploadtypes.CompletedPart) int {
		return cmp.Compare(a.PartNumber, b.PartNumber)
	})
	return out
}
