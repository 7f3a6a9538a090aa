package crawler

import (
	"path"
	"strings"
)

// Directory segments that never contain indexable source.
var deniedDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	"dist":         {},
	"build":        {},
	"out":          {},
	"vendor":       {},
	".next":        {},
	"target":       {},
	"coverage":     {},
	"__pycache__":  {},
	".idea":        {},
	".vscode":      {},
}

// Exact file names excluded regardless of location.
var deniedNames = map[string]struct{}{
	"package-lock.json": {},
	"yarn.lock":         {},
	"pnpm-lock.yaml":    {},
	"go.sum":            {},
	"cargo.lock":        {},
	"composer.lock":     {},
	"gemfile.lock":      {},
	"poetry.lock":       {},
	".ds_store":         {},
}

// Binary and media extensions excluded from indexing.
var deniedExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {}, ".webp": {},
	".mp4": {}, ".mov": {}, ".avi": {}, ".mkv": {},
	".mp3": {}, ".wav": {}, ".ogg": {},
	".pdf": {}, ".zip": {}, ".tar": {}, ".gz": {}, ".rar": {}, ".7z": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {}, ".otf": {},
	".exe": {}, ".dll": {}, ".so": {}, ".dylib": {}, ".bin": {},
	".class": {}, ".jar": {}, ".pyc": {}, ".o": {}, ".a": {},
	".lock": {}, ".map": {},
}

var langByName = map[string]string{
	"dockerfile": "dockerfile",
	"makefile":   "makefile",
	"gemfile":    "ruby",
	"rakefile":   "ruby",
}

var langByExt = map[string]string{
	".go":     "go",
	".ts":     "typescript",
	".tsx":    "typescript",
	".js":     "javascript",
	".jsx":    "javascript",
	".py":     "python",
	".rb":     "ruby",
	".rs":     "rust",
	".java":   "java",
	".kt":     "kotlin",
	".swift":  "swift",
	".c":      "c",
	".h":      "c",
	".cpp":    "cpp",
	".cc":     "cpp",
	".hpp":    "cpp",
	".cs":     "csharp",
	".php":    "php",
	".sh":     "shell",
	".sql":    "sql",
	".html":   "html",
	".css":    "css",
	".scss":   "css",
	".json":   "json",
	".yaml":   "yaml",
	".yml":    "yaml",
	".toml":   "toml",
	".md":     "markdown",
	".vue":    "vue",
	".svelte": "svelte",
}

// EligiblePath reports whether a repository path should be crawled.
// The filtering policy is fixed: denied directory segments, denied file
// names (lockfiles, env files), and denied binary/media extensions.
func EligiblePath(p string) bool {
	if p == "" {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if _, ok := deniedDirs[seg]; ok {
			return false
		}
	}
	name := strings.ToLower(path.Base(p))
	if _, ok := deniedNames[name]; ok {
		return false
	}
	if name == ".env" || strings.HasPrefix(name, ".env.") {
		return false
	}
	if strings.HasSuffix(name, ".min.js") {
		return false
	}
	if _, ok := deniedExts[strings.ToLower(path.Ext(name))]; ok {
		return false
	}
	return true
}

// InferLanguage maps a file path to a coarse language tag, or "plain"
// when the extension is unknown.
func InferLanguage(p string) string {
	if lang, ok := langByExt[strings.ToLower(path.Ext(p))]; ok {
		return lang
	}
	if lang, ok := langByName[strings.ToLower(path.Base(p))]; ok {
		return lang
	}
	return "plain"
}
