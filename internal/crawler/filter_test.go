package crawler

import "testing"

func TestEligiblePath(t *testing.T) {
	allow := []string{
		"main.go",
		"src/app.ts",
		"docs/guide.md",
		"Dockerfile",
		"Makefile",
		"config/settings.yaml",
	}
	deny := []string{
		"node_modules/left-pad/index.js",
		"vendor/github.com/x/y.go",
		".git/HEAD",
		"dist/bundle.js",
		"app.min.js",
		"bundle.js.map",
		"logo.png",
		"fonts/roboto.woff2",
		"package-lock.json",
		"yarn.lock",
		".env",
		".env.example",
		".env.production",
		"__pycache__/mod.pyc",
		"build/out.o",
	}
	for _, p := range allow {
		if !EligiblePath(p) {
			t.Errorf("EligiblePath(%q) = false, want true", p)
		}
	}
	for _, p := range deny {
		if EligiblePath(p) {
			t.Errorf("EligiblePath(%q) = true, want false", p)
		}
	}
}

func TestInferLanguage(t *testing.T) {
	cases := map[string]string{
		"main.go":      "go",
		"app.tsx":      "typescript",
		"server.py":    "python",
		"README.md":    "markdown",
		"Dockerfile":   "dockerfile",
		"weird.xyzzy":  "plain",
		"no_extension": "plain",
	}
	for path, want := range cases {
		if got := InferLanguage(path); got != want {
			t.Errorf("InferLanguage(%q) = %q, want %q", path, got, want)
		}
	}
}
