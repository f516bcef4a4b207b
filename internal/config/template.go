package config

import (
	"fmt"
	"os"

	"github.com/driftsync/drift/internal/utils"
)

// configTemplate is written by `drift init`. Durations go through the
// yaml as strings, so the template keeps them quoted-free literals.
const configTemplate = `# drift configuration
# Environment variables with a DRIFT_ prefix override any value here,
# e.g. DRIFT_BUCKET, DRIFT_MAX_CONCURRENT.

# Local folders to mirror. Each folder's base name becomes part of its
# object keys, so base names must be unique.
roots:
  - ~/Documents

# Object key prefix: keys look like <prefix>/<folder name>/<relative path>
prefix: ""

# Object store settings. Leave access_key/secret_key empty to use the
# default AWS credential chain (env, shared config, instance role).
bucket: ""
region: us-east-1
access_key: ""
secret_key: ""
# endpoint: http://localhost:9000   # for S3-compatible stores
# use_accelerate: true

# Engine tuning.
max_concurrent: 100
retry_limit: 3
debounce: 300ms
scan_interval: 15m
shutdown_grace: 10s

# Deleting a local file only stops tracking it. Set delete_remote to
# true to also delete the object in the store.
delete_remote: false

# Glob patterns excluded from mirroring, on top of per-root .driftignore
# files and the built-in rules.
exclude: []
#  - "**/*.iso"
#  - "scratch/**"

# Where drift keeps its manifest, logs and lock file.
data_dir: ~/.drift
`

// SaveTemplate writes a starter config. It refuses to overwrite.
func SaveTemplate(path string) error {
	if utils.FileExists(path) {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := utils.EnsureParent(path); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(configTemplate), 0o644)
}
