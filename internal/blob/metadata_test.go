package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMetadataValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{
			name:  "ascii passes through",
			value: "/home/alice/docs/report.pdf",
			want:  "/home/alice/docs/report.pdf",
		},
		{
			name:  "empty passes through",
			value: "",
			want:  "",
		},
		{
			name:  "non-ascii gets encoded",
			value: "/home/alice/фото/лето.jpg",
			want:  "base64:L2hvbWUvYWxpY2Uv0YTQvtGC0L4v0LvQtdGC0L4uanBn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeMetadataValue(tt.value))
		})
	}
}

func TestDecodeMetadataValue_RoundTrip(t *testing.T) {
	paths := []string{
		"plain/ascii/path.txt",
		"/home/alice/фото/лето.jpg",
		"日本語/ファイル.dat",
	}
	for _, p := range paths {
		assert.Equal(t, p, DecodeMetadataValue(EncodeMetadataValue(p)))
	}
}

func TestDecodeMetadataValue_Garbage(t *testing.T) {
	// Undecodable values come back untouched.
	assert.Equal(t, "base64:!!!not-base64!!!", DecodeMetadataValue("base64:!!!not-base64!!!"))
}

func TestMD5HexToBase64(t *testing.T) {
	// md5("hello") = 5d41402abc4b2a76b9719d911017c592
	got, err := md5HexToBase64("5d41402abc4b2a76b9719d911017c592")
	require.NoError(t, err)
	assert.Equal(t, "XUFAKrxLKna5cZ2REBfFkg==", got)

	_, err = md5HexToBase64("not-hex")
	assert.Error(t, err)
}

func TestIsMD5Hex(t *testing.T) {
	assert.True(t, isMD5Hex("5d41402abc4b2a76b9719d911017c592"))
	assert.False(t, isMD5Hex("5d41402abc4b2a76b9719d911017c592-4"), "multipart etag")
	assert.False(t, isMD5Hex("short"))
	assert.False(t, isMD5Hex("zz41402abc4b2a76b9719d911017c592"))
}
