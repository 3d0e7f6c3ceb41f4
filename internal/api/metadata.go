package api

import (
	"encoding/base64"
	"sort"
	"strings"

	"github.com/tus-upload-server/backend/internal/models"
)

// ParseMetadata decodes an Upload-Metadata header of comma-separated
// "key base64value" pairs. Pairs without a space, or whose value is not
// valid base64, are skipped rather than failing the request.
func ParseMetadata(header string) models.Metadata {
	result := make(models.Metadata)
	if header == "" {
		return result
	}

	for _, pair := range strings.Split(header, ",") {
		pair = strings.TrimSpace(pair)
		key, value, ok := strings.Cut(pair, " ")
		if !ok {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
		if err != nil {
			continue
		}
		result[strings.TrimSpace(key)] = string(decoded)
	}
	return result
}

// EncodeMetadata renders m as an Upload-Metadata header value with keys in
// sorted order.
func EncodeMetadata(m models.Metadata) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+" "+base64.StdEncoding.EncodeToString([]byte(m[k])))
	}
	return strings.Join(pairs, ",")
}
