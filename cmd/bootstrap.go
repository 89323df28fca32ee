package main

import "github.com/minisource/orchestrator/internal/registry"

// registerProcessTypes declares the process types available to external
// callers at startup. Real deployments would load this from a config
// file or an admin API; it's a code-level declaration here per §6.
func registerProcessTypes(reg *registry.Registry) {
	reg.Register(registry.ProcessType{
		Name:        "nightly-report",
		Description: "Pulls the day's data, builds a report, and ships it",
		Tasks: []registry.TaskDefinition{
			{Name: "fetch-data", Command: "/usr/local/bin/fetch-data --date=${date}", TimeoutMinutes: 20, MaxRetries: 3},
			{Name: "build-report", Command: "/usr/local/bin/build-report --input=${date}.json", TimeoutMinutes: 15, MaxRetries: 2},
			{Name: "ship-report", Command: "/usr/local/bin/ship-report --to=${recipient}", TimeoutMinutes: 5, MaxRetries: 3},
		},
	})

	reg.Register(registry.ProcessType{
		Name:        "data-backup",
		Description: "Snapshots a data directory and uploads it to cold storage",
		Tasks: []registry.TaskDefinition{
			{Name: "snapshot", Command: "/usr/local/bin/snapshot --source=${source_dir}", TimeoutMinutes: 30, MaxRetries: 2},
			{Name: "upload", Command: "/usr/local/bin/upload --target=${bucket}", TimeoutMinutes: 45, MaxRetries: 3},
		},
	})
}
