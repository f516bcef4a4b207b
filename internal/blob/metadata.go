package blob

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// Object metadata keys written on every upload. S3 lowercases metadata keys,
// so these are lowercase to begin with.
const (
	MetaChecksum     = "md5-checksum"
	MetaOriginalPath = "original-path"
	MetaFileSize     = "file-size"
	MetaAgentID      = "agent-id"
)

// base64Prefix marks metadata values that had to be encoded. S3 metadata
// values must be ASCII, paths are not.
const base64Prefix = "base64:"

// EncodeMetadataValue returns v as-is when it is plain ASCII, otherwise a
// base64 rendition with a recognizable prefix.
func EncodeMetadataValue(v string) string {
	if isASCII(v) {
		return v
	}
	return base64Prefix + base64.StdEncoding.EncodeToString([]byte(v))
}

// DecodeMetadataValue reverses EncodeMetadataValue. Undecodable values are
// returned untouched.
func DecodeMetadataValue(v string) string {
	if !strings.HasPrefix(v, base64Prefix) {
		return v
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, base64Prefix))
	if err != nil {
		return v
	}
	return string(decoded)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// md5HexToBase64 converts a hex MD5 digest to the base64 form Content-MD5
// headers require.
func md5HexToBase64(sum string) (string, error) {
	raw, err := hex.DecodeString(sum)
	if err != nil {
		return "", fmt.Errorf("invalid md5 hex %q: %w", sum, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// isMD5Hex reports whether s looks like a plain hex MD5 digest. Multipart
// ETags carry a "-<parts>" suffix and fail this check.
func isMD5Hex(s string) bool {
	if len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
