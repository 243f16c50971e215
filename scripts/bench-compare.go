//go:build ignore

// Command bench-compare diffs two `go test -bench` outputs and flags
// regressions.
//
// Capture a baseline, make changes, capture again, then compare:
//
//	go test -bench . -benchmem -count 5 ./internal/scanner ./internal/manifest > old.txt
//	go test -bench . -benchmem -count 5 ./internal/scanner ./internal/manifest > new.txt
//	go run scripts/bench-compare.go old.txt new.txt
//
// Benchmarks appearing multiple times (from -count) are averaged before
// comparison. The GOMAXPROCS suffix is stripped from names so outputs from
// machines with different core counts still line up. Exits nonzero when any
// benchmark slows down by more than -threshold percent, which makes the
// script usable as a CI gate.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
)

var (
	threshold = flag.Float64("threshold", 10, "percent slowdown in ns/op that counts as a regression")
	jsonOut   = flag.Bool("json", false, "emit the comparison as JSON instead of a table")
	warnOnly  = flag.Bool("warn", false, "report regressions but always exit zero")
)

// benchLine matches standard testing output with optional -benchmem columns.
var benchLine = regexp.MustCompile(`^(Benchmark\S+?)(?:-\d+)?\s+(\d+)\s+([\d.]+) ns/op(?:\s+([\d.]+) MB/s)?(?:\s+(\d+) B/op)?(?:\s+(\d+) allocs/op)?`)

type sample struct {
	nsPerOp     float64
	bytesPerOp  float64
	allocsPerOp float64
	hasMem      bool
	runs        int
}

type row struct {
	Name      string  `json:"name"`
	OldNs     float64 `json:"old_ns_per_op"`
	NewNs     float64 `json:"new_ns_per_op"`
	DeltaPct  float64 `json:"delta_percent"`
	OldAllocs float64 `json:"old_allocs_per_op,omitempty"`
	NewAllocs float64 `json:"new_allocs_per_op,omitempty"`
	HasMem    bool    `json:"-"`
}

func main() {
	flag.Parse()
	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: bench-compare [flags] <old-output> <new-output>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	oldSet, err := parseFile(flag.Arg(0))
	if err != nil {
		fatal("read %s: %v", flag.Arg(0), err)
	}
	newSet, err := parseFile(flag.Arg(1))
	if err != nil {
		fatal("read %s: %v", flag.Arg(1), err)
	}

	rows, onlyOld, onlyNew := diff(oldSet, newSet)
	if len(rows) == 0 {
		fatal("no benchmarks appear in both files")
	}

	regressions := 0
	ratioProduct := 1.0
	for _, r := range rows {
		ratioProduct *= r.NewNs / r.OldNs
		if r.DeltaPct > *threshold {
			regressions++
		}
	}
	geomean := (math.Pow(ratioProduct, 1/float64(len(rows))) - 1) * 100

	if *jsonOut {
		printJSON(rows, geomean, regressions)
	} else {
		printTable(rows, geomean, onlyOld, onlyNew)
	}

	if regressions > 0 && !*warnOnly {
		fmt.Fprintf(os.Stderr, "bench-compare: %d benchmark(s) regressed beyond %.1f%%\n", regressions, *threshold)
		os.Exit(1)
	}
}

func parseFile(path string) (map[string]sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]sample)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m := benchLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		ns, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		s := out[m[1]]
		// Running average keeps -count runs from needing a second pass.
		s.nsPerOp += (ns - s.nsPerOp) / float64(s.runs+1)
		if m[5] != "" && m[6] != "" {
			bytesOp, _ := strconv.ParseFloat(m[5], 64)
			allocsOp, _ := strconv.ParseFloat(m[6], 64)
			s.bytesPerOp += (bytesOp - s.bytesPerOp) / float64(s.runs+1)
			s.allocsPerOp += (allocsOp - s.allocsPerOp) / float64(s.runs+1)
			s.hasMem = true
		}
		s.runs++
		out[m[1]] = s
	}
	return out, sc.Err()
}

func diff(oldSet, newSet map[string]sample) (rows []row, onlyOld, onlyNew []string) {
	for name, o := range oldSet {
		n, ok := newSet[name]
		if !ok {
			onlyOld = append(onlyOld, name)
			continue
		}
		rows = append(rows, row{
			Name:      name,
			OldNs:     o.nsPerOp,
			NewNs:     n.nsPerOp,
			DeltaPct:  (n.nsPerOp/o.nsPerOp - 1) * 100,
			OldAllocs: o.allocsPerOp,
			NewAllocs: n.allocsPerOp,
			HasMem:    o.hasMem && n.hasMem,
		})
	}
	for name := range newSet {
		if _, ok := oldSet[name]; !ok {
			onlyNew = append(onlyNew, name)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	sort.Strings(onlyOld)
	sort.Strings(onlyNew)
	return rows, onlyOld, onlyNew
}

func printTable(rows []row, geomean float64, onlyOld, onlyNew []string) {
	w := tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
	fmt.Fprintln(w, "benchmark\told ns/op\tnew ns/op\tdelta\tallocs/op")
	for _, r := range rows {
		allocs := "-"
		if r.HasMem {
			allocs = fmt.Sprintf("%.0f -> %.0f", r.OldAllocs, r.NewAllocs)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%+.1f%%%s\t%s\n",
			strings.TrimPrefix(r.Name, "Benchmark"),
			formatNs(r.OldNs), formatNs(r.NewNs), r.DeltaPct, marker(r.DeltaPct), allocs)
	}
	fmt.Fprintf(w, "geomean\t\t\t%+.1f%%\t\n", geomean)
	w.Flush()

	for _, name := range onlyOld {
		fmt.Printf("removed: %s\n", strings.TrimPrefix(name, "Benchmark"))
	}
	for _, name := range onlyNew {
		fmt.Printf("added:   %s\n", strings.TrimPrefix(name, "Benchmark"))
	}
}

func printJSON(rows []row, geomean float64, regressions int) {
	doc := struct {
		Benchmarks     []row   `json:"benchmarks"`
		GeomeanPercent float64 `json:"geomean_percent"`
		Regressions    int     `json:"regressions"`
	}{rows, geomean, regressions}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		fatal("encode: %v", err)
	}
}

func marker(deltaPct float64) string {
	switch {
	case deltaPct > *threshold:
		return " !"
	case deltaPct < -*threshold:
		return " *"
	default:
		return ""
	}
}

func formatNs(ns float64) string {
	switch {
	case ns >= 1e9:
		return fmt.Sprintf("%.2fs", ns/1e9)
	case ns >= 1e6:
		return fmt.Sprintf("%.2fms", ns/1e6)
	case ns >= 1e3:
		return fmt.Sprintf("%.1fµs", ns/1e3)
	default:
		return fmt.Sprintf("%.0fns", ns)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "bench-compare: "+format+"\n", args...)
	os.Exit(1)
}
