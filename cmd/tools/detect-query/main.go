// Command detect-query inspects a running detect monitor from the command
// line: pipeline stats, recent runs, stored detections and snapshots.
//
// Usage:
//
//	detect-query [flags] {stats|runs|detections|snapshot|health}
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/banshee-data/pillars.detect/internal/detect/monitor"
)

var (
	addr  = flag.String("addr", "http://localhost:8082", "Base URL of the detect monitor")
	runID = flag.String("run", "", "Run ID (defaults to the most recent run)")
	limit = flag.Int("limit", 10, "Maximum runs to list")
)

func main() {
	flag.Parse()

	c := monitor.NewClient(nil, *addr)

	action := flag.Arg(0)
	if action == "" {
		action = "stats"
	}

	switch action {
	case "stats":
		m, err := c.FetchStats()
		if err != nil {
			log.Fatalf("Failed to fetch stats: %v", err)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%-22s %v\n", k, m[k])
		}

	case "runs":
		runs, err := c.ListRuns(*limit)
		if err != nil {
			log.Fatalf("Failed to list runs: %v", err)
		}
		fmt.Printf("%-36s %-14s %-10s %5s %10s  %s\n", "RUN", "MODEL", "STATUS", "BATCH", "DETECTIONS", "STARTED")
		for _, r := range runs {
			fmt.Printf("%-36s %-14s %-10s %5d %10d  %s\n",
				r.RunID, r.ModelName, r.Status, r.BatchSize, r.Detections,
				r.StartedAt.Format(time.RFC3339))
		}

	case "detections":
		rows, err := c.FetchDetections(*runID)
		if err != nil {
			log.Fatalf("Failed to fetch detections: %v", err)
		}
		fmt.Printf("%6s %5s %7s %9s %9s %9s %8s\n", "SAMPLE", "CLASS", "SCORE", "X", "Y", "Z", "YAW")
		for _, d := range rows {
			fmt.Printf("%6d %5d %7.3f %9.2f %9.2f %9.2f %8.3f\n",
				d.SampleIdx, d.Label, d.Score, d.X, d.Y, d.Z, d.Yaw)
		}

	case "snapshot":
		path, err := c.TriggerSnapshot(*runID)
		if err != nil {
			log.Fatalf("Failed to render snapshot: %v", err)
		}
		log.Printf("✓ Snapshot rendered: %s", path)

	case "health":
		if err := c.Health(); err != nil {
			log.Fatalf("Monitor unhealthy: %v", err)
		}
		log.Printf("✓ %s is healthy", *addr)

	default:
		fmt.Fprintf(os.Stderr, "Unknown action %q\n\nUsage: detect-query [flags] {stats|runs|detections|snapshot|health}\n\n", action)
		flag.PrintDefaults()
		os.Exit(1)
	}
}
