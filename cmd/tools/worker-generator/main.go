package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"matching-workers/pkg/registry"
)

func main() {
	activity := flag.String("activity", "", "Activity ID from registry (e.g., compute-matches)")
	outputDir := flag.String("output", "./internal/workers/matching/", "Parent directory for the generated worker")
	registryPath := flag.String("registry", "configs/activity-registry.json", "Path to the activity registry JSON file")
	force := flag.Bool("force", false, "Overwrite existing files")
	flag.Parse()

	if *activity == "" {
		fmt.Println("Error: -activity flag is required")
		flag.Usage()
		os.Exit(1)
	}

	reg, err := registry.LoadRegistry(*registryPath)
	if err != nil {
		fmt.Printf("Error loading registry: %v\n", err)
		os.Exit(1)
	}
	a, ok := reg.Find(*activity)
	if !ok {
		fmt.Printf("Error: activity %q not found in registry\n", *activity)
		os.Exit(1)
	}

	files, err := render(newWorkerData(*a))
	if err != nil {
		fmt.Printf("Error generating worker: %v\n", err)
		os.Exit(1)
	}

	dir := filepath.Join(*outputDir, a.TaskType)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Printf("Error creating %s: %v\n", dir, err)
		os.Exit(1)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil && !*force {
			fmt.Printf("⚠️  skipping %s (exists, use -force to overwrite)\n", path)
			continue
		}
		if err := os.WriteFile(path, files[name], 0o644); err != nil {
			fmt.Printf("Error writing %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("✅ wrote %s\n", path)
	}
	fmt.Printf("Register %s in cmd/worker-manager/services.go and configs/config.yaml.\n", a.TaskType)
}
