package mirror

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
)

const checksumCacheSize = 4096

// Checksummer computes content MD5s, reusing cached digests while a file's
// size and modification time are unchanged. Retry bursts re-enqueue the
// same file; rehashing it every time would be wasted IO.
type Checksummer struct {
	cache *lru.Cache[string, string]
}

func NewChecksummer() *Checksummer {
	cache, _ := lru.New[string, string](checksumCacheSize)
	return &Checksummer{cache: cache}
}

// Sum returns the hex MD5 of the file at path. info must be a fresh stat of
// the same path; it keys the cache.
func (c *Checksummer) Sum(path string, info fs.FileInfo) (string, error) {
	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if sum, ok := c.cache.Get(key); ok {
		return sum, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}

	sum := hex.EncodeToString(hash.Sum(nil))
	c.cache.Add(key, sum)
	return sum, nil
}
