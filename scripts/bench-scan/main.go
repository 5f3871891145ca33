// bench-scan measures wall time and heap usage of a scan for several worker
// counts on a target directory.
//
// Usage:
//
//	go run ./scripts/bench-scan --target ~/sources/kubernetes --rules rules/ \
//	  --jobs 1,2,4,8 --profile-dir docs/profiles/scan
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/codesift/pkg/engine"
	"github.com/Sumatoshi-tech/codesift/pkg/rules"
	"github.com/Sumatoshi-tech/codesift/pkg/safeconv"
)

type run struct {
	jobs      int
	files     int
	findings  int
	bytes     int64
	elapsed   time.Duration
	heapInUse uint64
	numGC     uint32
}

func main() {
	target := flag.String("target", "", "Directory to scan")
	rulePaths := flag.String("rules", "", "Comma-separated rule files or directories")
	jobList := flag.String("jobs", "1,"+strconv.Itoa(runtime.NumCPU()), "Comma-separated worker counts")
	repeat := flag.Int("repeat", 1, "Scans per worker count; the fastest is reported")
	profileDir := flag.String("profile-dir", "", "Directory to write heap and CPU profiles")
	cpuProfile := flag.Bool("cpu-profile", false, "Write CPU profile to profile-dir/cpu.prof")

	flag.Parse()

	if *target == "" || *rulePaths == "" {
		log.Fatal("--target and --rules are required")
	}

	jobs, err := parseJobs(*jobList)
	if err != nil {
		log.Fatalf("parse --jobs: %v", err)
	}

	set, diags, err := rules.Load(strings.Split(*rulePaths, ",")...)
	if err != nil {
		log.Fatalf("load rules: %v", err)
	}

	for _, d := range diags {
		log.Printf("rules: %s", d)
	}

	log.Printf("loaded %d rules for %s", set.Len(), strings.Join(set.Languages(), ", "))

	if *profileDir != "" {
		if err := os.MkdirAll(*profileDir, 0o755); err != nil {
			log.Fatalf("mkdir profile-dir: %v", err)
		}
	}

	if *cpuProfile && *profileDir != "" {
		stop := startCPUProfile(filepath.Join(*profileDir, "cpu.prof"))
		defer stop()
	}

	runs := make([]run, 0, len(jobs))

	for _, workers := range jobs {
		best := run{jobs: workers}

		for attempt := range *repeat {
			measured := scan(set, *target, workers)
			if attempt == 0 || measured.elapsed < best.elapsed {
				best = measured
			}
		}

		log.Printf("jobs=%d files=%d elapsed=%s", best.jobs, best.files, best.elapsed)
		runs = append(runs, best)

		if *profileDir != "" {
			writeHeapProfile(filepath.Join(*profileDir, fmt.Sprintf("heap_jobs_%d.prof", workers)))
		}
	}

	fmt.Println(renderRuns(runs))
}

func parseJobs(list string) ([]int, error) {
	var jobs []int

	for field := range strings.SplitSeq(list, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, n)
	}

	return jobs, nil
}

func scan(set *rules.Set, target string, workers int) run {
	scanner := engine.NewScanner(set, engine.Options{Jobs: workers})

	start := time.Now()

	result, err := scanner.ScanPath(context.Background(), target, engine.TargetOptions{})
	if err != nil {
		log.Fatalf("scan: %v", err)
	}

	elapsed := time.Since(start)

	runtime.GC()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return run{
		jobs:      workers,
		files:     result.Stats.Files,
		findings:  len(result.Findings),
		bytes:     result.Stats.Bytes,
		elapsed:   elapsed,
		heapInUse: mem.HeapInuse,
		numGC:     mem.NumGC,
	}
}

func renderRuns(runs []run) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Jobs", "Files", "Findings", "Bytes", "Elapsed", "Files/s", "Heap in use", "GCs"})

	for _, r := range runs {
		rate := 0.0
		if r.elapsed > 0 {
			rate = float64(r.files) / r.elapsed.Seconds()
		}

		tw.AppendRow(table.Row{
			r.jobs,
			humanize.Comma(int64(r.files)),
			humanize.Comma(int64(r.findings)),
			humanize.Bytes(safeconv.ClampInt64ToUint64(r.bytes)),
			r.elapsed.Round(time.Millisecond),
			humanize.FormatFloat("#,###.#", rate),
			humanize.Bytes(r.heapInUse),
			r.numGC,
		})
	}

	return tw.Render()
}

func startCPUProfile(path string) func() {
	cpuFile, err := os.Create(path)
	if err != nil {
		log.Fatalf("create cpu profile: %v", err)
	}

	if err := pprof.StartCPUProfile(cpuFile); err != nil {
		log.Fatalf("start cpu profile: %v", err)
	}

	log.Printf("CPU profiling enabled -> %s", path)

	return func() {
		pprof.StopCPUProfile()
		cpuFile.Close()
	}
}

func writeHeapProfile(path string) {
	runtime.GC()

	f, err := os.Create(path)
	if err != nil {
		log.Printf("warning: create heap profile %s: %v", path, err)

		return
	}
	defer f.Close()

	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Printf("warning: write heap profile %s: %v", path, err)
	}
}
