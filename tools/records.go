// Summarize a dashboard export of verification records

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

func main() {
	path := "records.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read file: %v\n", err)
		os.Exit(1)
	}

	var records []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Status string `json:"verification_status"`
	}

	if err := json.Unmarshal(raw, &records); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse JSON: %v\n", err)
		os.Exit(1)
	}

	counts := make(map[string]int)

	for _, r := range records {
		status := strings.ToLower(strings.TrimSpace(r.Status))
		if status == "" {
			status = "pending"
		}

		counts[status]++
	}

	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}

	sort.Strings(statuses)

	fmt.Printf("%d records\n", len(records))

	for _, s := range statuses {
		fmt.Printf("  %-8s %d\n", s, counts[s])
	}

	for _, r := range records {
		if strings.EqualFold(r.Status, "fail") {
			fmt.Printf("fail: %s (%s)\n", r.ID, r.Name)
		}
	}
}
