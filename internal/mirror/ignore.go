package mirror

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/driftsync/drift/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is the optional per-root ignore file, gitignore syntax.
const IgnoreFileName = ".driftignore"

var defaultIgnoreLines = []string{
	// OS junk
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"Icon\r",
	// editors and temp files
	"*.tmp",
	"*.swp",
	"*.part",
	"*~",
	// VCS and dev caches
	".git/",
	".svn/",
	".hg/",
	"node_modules/",
	"__pycache__/",
	"*.pyc",
	".ipynb_checkpoints/",
	// our own files
	IgnoreFileName,
	".drift/",
}

// IgnoreList decides which paths under one root are not mirrored. Built-in
// rules plus the root's .driftignore plus configured exclude globs.
type IgnoreList struct {
	root    string
	matcher *gitignore.GitIgnore
	exclude []string
}

func NewIgnoreList(root string, exclude []string) *IgnoreList {
	lines := make([]string, 0, len(defaultIgnoreLines))
	lines = append(lines, defaultIgnoreLines...)
	lines = append(lines, readIgnoreFile(filepath.Join(root, IgnoreFileName))...)

	return &IgnoreList{
		root:    root,
		matcher: gitignore.CompileIgnoreLines(lines...),
		exclude: exclude,
	}
}

func readIgnoreFile(path string) []string {
	if !utils.FileExists(path) {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		slog.Warn("open ignore file", "path", path, "error", err)
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("read ignore file", "path", path, "error", err)
		return nil
	}

	slog.Debug("loaded ignore file", "path", path, "rules", len(lines))
	return lines
}

// ShouldIgnore takes the root-relative path with forward slashes.
// Directories end with "/".
func (l *IgnoreList) ShouldIgnore(relPath string) bool {
	if l.matcher.MatchesPath(relPath) {
		return true
	}
	for _, pattern := range l.exclude {
		if ok, err := doublestar.Match(pattern, strings.TrimSuffix(relPath, "/")); err == nil && ok {
			return true
		}
	}
	return false
}
