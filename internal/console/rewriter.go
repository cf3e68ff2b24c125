package console

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
)

// PathRewriter completes the first word of a command to the only executable
// in the search path it is a prefix of.
type PathRewriter struct {
	path string
}

// NewPathRewriter searches the directories of path, a list in $PATH format.
func NewPathRewriter(path string) PathRewriter {
	return PathRewriter{path: path}
}

func (r PathRewriter) RewriteForRetry(command string) (string, bool) {
	words, err := shlex.Split(command)
	if err != nil || len(words) == 0 {
		return "", false
	}
	name := words[0]
	if name == "" || strings.ContainsRune(name, '/') {
		return "", false
	}

	var match string
	for _, dir := range filepath.SplitList(r.path) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			n := e.Name()
			if n == name || n == match || !strings.HasPrefix(n, name) {
				continue
			}
			if !executable(filepath.Join(dir, n)) {
				continue
			}
			if match != "" {
				return "", false
			}
			match = n
		}
	}
	if match == "" {
		return "", false
	}

	trimmed := strings.TrimLeft(command, " \t")
	if strings.HasPrefix(trimmed, name) {
		return match + trimmed[len(name):], true
	}
	// first word was quoted
	words[0] = match
	for i, w := range words {
		words[i] = quote(w)
	}
	return strings.Join(words, " "), true
}

func executable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

func quote(word string) string {
	if word != "" && !strings.ContainsAny(word, " \t\n'\"\\$`*?[]{}()<>|&;#~") {
		return word
	}
	return "'" + strings.ReplaceAll(word, "'", `'\''`) + "'"
}
