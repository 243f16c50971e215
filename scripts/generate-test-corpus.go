//go:build ignore

// Command generate-test-corpus emits a synthetic repository for exercising
// the scanner and the refresh pipeline at scale.
//
// The layout covers every file class the scanner distinguishes: source in
// several languages, entry points, tests, configs, docs, plain-text extras,
// binary blobs, files over the size cap, and trees that must be excluded
// (vendor, node_modules, plus a .crystalignore pattern).
//
// Usage:
//
//	go run scripts/generate-test-corpus.go -files 2000 -output /tmp/corpus
//	crystalmcp refresh /tmp/corpus
//
// The generator is deterministic for a given -seed, so two runs produce
// byte-identical trees and benchmark comparisons stay stable.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	fileCount = flag.Int("files", 1000, "number of scannable files to generate")
	outputDir = flag.String("output", "testdata/corpus", "directory to write the corpus into")
	seed      = flag.Int64("seed", 42, "random seed for deterministic output")
	oversized = flag.Int("oversized", 3, "number of files exceeding the default size cap")
	binaries  = flag.Int("binaries", 5, "number of binary files for sniffer coverage")
)

// Distribution of generated files across scanner categories. Roughly matches
// what a mid-sized service repository looks like.
const (
	pctSource = 55
	pctTests  = 15
	pctConfig = 12
	pctDocs   = 10
	// remainder is "other": shell scripts, SQL, plain text
)

var identWords = []string{
	"session", "claim", "manifest", "snapshot", "queue", "worker", "batch",
	"result", "record", "cursor", "token", "digest", "payload", "bucket",
	"ledger", "probe", "sweep", "anchor", "replay", "drain",
}

var pkgWords = []string{
	"auth", "billing", "catalog", "dispatch", "export", "fleet", "gateway",
	"ingest", "jobs", "ledger", "metrics", "notify", "orders", "parser",
	"quota", "registry", "routing", "sync", "tenants", "vault",
}

func main() {
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fatal("create output dir: %v", err)
	}

	written := 0
	write := func(rel, content string) {
		path := filepath.Join(*outputDir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			fatal("mkdir for %s: %v", rel, err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			fatal("write %s: %v", rel, err)
		}
		written++
	}

	// Repository scaffolding the scanner treats specially: entry points and
	// root configs get boosted priority, ignore files shape traversal.
	write("go.mod", "module example.com/corpus\n\ngo 1.25\n")
	write("main.go", goMain("corpus"))
	write("cmd/corpusd/main.go", goMain("corpusd"))
	write("README.md", docFile(rng, "corpus", 12))
	write("Makefile", "build:\n\tgo build ./...\n\ntest:\n\tgo test ./...\n")
	write(".gitignore", "bin/\n*.log\ntmp/\n")
	write(".crystalignore", "# generated corpus ignores\nscratch/\n*.generated.go\n")

	// Files matching .crystalignore patterns. Scans must skip all of these.
	write("scratch/notes.txt", "scratch space, never scanned\n")
	write("scratch/deep/more.go", goSource(rng, "scratch", 2))
	write("internal/api/types.generated.go", goSource(rng, "api", 3))

	// Excluded dependency trees.
	for i := 0; i < 4; i++ {
		write(fmt.Sprintf("vendor/dep%d/dep.go", i), goSource(rng, fmt.Sprintf("dep%d", i), 2))
		write(fmt.Sprintf("node_modules/pkg%d/index.js", i), jsSource(rng, 2))
	}

	for i := 0; i < *binaries; i++ {
		write(fmt.Sprintf("assets/blob%d.bin", i), binaryBlob(rng, 2048))
	}
	for i := 0; i < *oversized; i++ {
		// DefaultMaxFileSize is 1 MiB; pad well past it.
		write(fmt.Sprintf("bulk/dump%d.json", i), strings.Repeat(`{"k":"v"}`+"\n", 150_000))
	}

	for i := 0; i < *fileCount; i++ {
		pkg := pkgWords[rng.Intn(len(pkgWords))]
		switch p := rng.Intn(100); {
		case p < pctSource:
			switch rng.Intn(3) {
			case 0:
				write(fmt.Sprintf("internal/%s/%s_%d.go", pkg, ident(rng), i), goSource(rng, pkg, 3+rng.Intn(5)))
			case 1:
				write(fmt.Sprintf("web/src/%s/%s_%d.ts", pkg, ident(rng), i), tsSource(rng, 2+rng.Intn(4)))
			default:
				write(fmt.Sprintf("tools/%s_%d.py", ident(rng), i), pySource(rng, 2+rng.Intn(3)))
			}
		case p < pctSource+pctTests:
			write(fmt.Sprintf("internal/%s/%s_%d_test.go", pkg, ident(rng), i), goTest(rng, pkg))
		case p < pctSource+pctTests+pctConfig:
			if rng.Intn(2) == 0 {
				write(fmt.Sprintf("deploy/%s_%d.yaml", pkg, i), yamlConfig(rng, pkg))
			} else {
				write(fmt.Sprintf("config/%s_%d.json", pkg, i), jsonConfig(rng, pkg))
			}
		case p < pctSource+pctTests+pctConfig+pctDocs:
			write(fmt.Sprintf("docs/%s_%d.md", pkg, i), docFile(rng, pkg, 4+rng.Intn(8)))
		default:
			switch rng.Intn(3) {
			case 0:
				write(fmt.Sprintf("scripts/%s_%d.sh", ident(rng), i), "#!/bin/sh\nset -eu\necho "+ident(rng)+"\n")
			case 1:
				write(fmt.Sprintf("db/migrations/%03d_%s.sql", i, ident(rng)), sqlMigration(rng))
			default:
				write(fmt.Sprintf("notes/%s_%d.txt", ident(rng), i), "checklist for "+ident(rng)+"\n")
			}
		}
	}

	fmt.Printf("generated %d files under %s (seed %d)\n", written, *outputDir, *seed)
	fmt.Printf("try: crystalmcp refresh %s\n", *outputDir)
}

func ident(rng *rand.Rand) string {
	return identWords[rng.Intn(len(identWords))]
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func goMain(name string) string {
	return fmt.Sprintf(`package main

import "fmt"

func main() {
	fmt.Println(%q)
}
`, name+" starting")
}

func goSource(rng *rand.Rand, pkg string, funcs int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "package %s\n\n", strings.ReplaceAll(pkg, "-", ""))
	for i := 0; i < funcs; i++ {
		name := title(ident(rng))
		fmt.Fprintf(&b, "// %s%d applies the %s step.\nfunc %s%d(input []string) int {\n", name, i, ident(rng), name, i)
		b.WriteString("\ttotal := 0\n\tfor _, s := range input {\n\t\ttotal += len(s)\n\t}\n\treturn total\n}\n\n")
	}
	return b.String()
}

func goTest(rng *rand.Rand, pkg string) string {
	name := title(ident(rng))
	return fmt.Sprintf(`package %s

import "testing"

func Test%s(t *testing.T) {
	got := %s0([]string{"a", "bb"})
	if got != 3 {
		t.Fatalf("got %%d, want 3", got)
	}
}
`, strings.ReplaceAll(pkg, "-", ""), name, name)
}

func tsSource(rng *rand.Rand, funcs int) string {
	var b strings.Builder
	b.WriteString("export interface Item {\n  id: string;\n  size: number;\n}\n\n")
	for i := 0; i < funcs; i++ {
		fmt.Fprintf(&b, "export function %s%d(items: Item[]): number {\n  return items.reduce((n, it) => n + it.size, 0);\n}\n\n", ident(rng), i)
	}
	return b.String()
}

func pySource(rng *rand.Rand, funcs int) string {
	var b strings.Builder
	b.WriteString("\"\"\"Generated helper module.\"\"\"\n\n")
	for i := 0; i < funcs; i++ {
		fmt.Fprintf(&b, "def %s_%d(rows):\n    return sum(len(r) for r in rows)\n\n", ident(rng), i)
	}
	return b.String()
}

func jsSource(rng *rand.Rand, funcs int) string {
	var b strings.Builder
	for i := 0; i < funcs; i++ {
		fmt.Fprintf(&b, "exports.%s%d = function (xs) {\n  return xs.length;\n};\n", ident(rng), i)
	}
	return b.String()
}

func yamlConfig(rng *rand.Rand, pkg string) string {
	return fmt.Sprintf("service: %s\nreplicas: %d\nresources:\n  cpu: %dm\n  memory: %dMi\nenv:\n  - name: LOG_LEVEL\n    value: info\n", pkg, 1+rng.Intn(5), 100*(1+rng.Intn(8)), 64*(1+rng.Intn(8)))
}

func jsonConfig(rng *rand.Rand, pkg string) string {
	return fmt.Sprintf("{\n  \"name\": %q,\n  \"timeout_ms\": %d,\n  \"retries\": %d\n}\n", pkg, 250*(1+rng.Intn(10)), rng.Intn(5))
}

func docFile(rng *rand.Rand, topic string, paras int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title(topic))
	for i := 0; i < paras; i++ {
		fmt.Fprintf(&b, "## %s\n\nThe %s stage feeds the %s step and records a %s per batch.\n\n",
			title(ident(rng)), ident(rng), ident(rng), ident(rng))
	}
	return b.String()
}

func sqlMigration(rng *rand.Rand) string {
	table := ident(rng)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  id BIGSERIAL PRIMARY KEY,\n  name TEXT NOT NULL,\n  created_at TIMESTAMPTZ DEFAULT now()\n);\n", table)
}

// binaryBlob produces bytes with enough NULs that content sniffing always
// classifies the file as binary.
func binaryBlob(rng *rand.Rand, size int) string {
	buf := make([]byte, size)
	rng.Read(buf)
	for i := 0; i < len(buf); i += 16 {
		buf[i] = 0
	}
	return string(buf)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "generate-test-corpus: "+format+"\n", args...)
	os.Exit(1)
}
