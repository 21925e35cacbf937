// watch polls a running analytics service and renders the pipeline
// state as terminal tables, refreshing in place.
//
// Usage:
//
//	go run ./scripts/watch -addr http://localhost:8080 -interval 2s
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

type recordingRow struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	AgentName string `json:"agent_name"`
	Status    string `json:"status"`
	WordCount int    `json:"word_count"`
}

type listResponse struct {
	Recordings []recordingRow `json:"recordings"`
	Count      int            `json:"count"`
}

type stageRow struct {
	Completed   int64 `json:"completed"`
	AvgDuration int64 `json:"avg_duration"`
	P95Duration int64 `json:"p95_duration"`
}

type snapshot struct {
	Uptime             int64               `json:"uptime"`
	RecordingsUploaded int64               `json:"recordings_uploaded"`
	RecordingsFailed   int64               `json:"recordings_failed"`
	Stages             map[string]stageRow `json:"stages"`
	Channels           struct {
		Created  int64            `json:"created"`
		Rejected map[string]int64 `json:"rejected"`
		Failed   int64            `json:"failed"`
	} `json:"channels"`
	EventsPublished int64 `json:"events_published"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "analytics service address")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	limit := flag.Int("limit", 15, "recordings to show")
	once := flag.Bool("once", false, "render a single frame and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 5 * time.Second}
	tty := isatty.IsTerminal(os.Stdout.Fd())

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for {
		render(client, *addr, *limit, tty)
		if *once {
			return
		}

		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case <-ticker.C:
		}
	}
}

func render(client *http.Client, addr string, limit int, tty bool) {
	var snap snapshot
	if err := fetchJSON(client, addr+"/metrics", &snap); err != nil {
		log.Fatalf("fetch metrics: %v", err)
	}

	var list listResponse
	if err := fetchJSON(client, fmt.Sprintf("%s/v1/recordings?limit=%d", addr, limit), &list); err != nil {
		log.Fatalf("fetch recordings: %v", err)
	}

	if tty {
		// Clear the screen and move the cursor home between frames.
		fmt.Print("\033[2J\033[H")
	}

	fmt.Printf("SoundScribe pipeline at %s (uptime %s)\n\n", addr, time.Duration(snap.Uptime).Round(time.Second))

	pipeline := table.NewWriter()
	pipeline.SetOutputMirror(os.Stdout)
	if tty {
		pipeline.SetStyle(table.StyleLight)
	}
	pipeline.AppendHeader(table.Row{"Metric", "Value"})
	pipeline.AppendRow(table.Row{"Recordings uploaded", snap.RecordingsUploaded})
	pipeline.AppendRow(table.Row{"Recordings failed", snap.RecordingsFailed})
	pipeline.AppendRow(table.Row{"Events published", snap.EventsPublished})
	pipeline.AppendRow(table.Row{"Channels created", snap.Channels.Created})
	pipeline.AppendRow(table.Row{"Channels failed", snap.Channels.Failed})
	for _, reason := range sortedKeys(snap.Channels.Rejected) {
		pipeline.AppendRow(table.Row{"Channels rejected: " + reason, snap.Channels.Rejected[reason]})
	}
	for _, name := range sortedKeys(snap.Stages) {
		stage := snap.Stages[name]
		pipeline.AppendRow(table.Row{
			"Stage " + name,
			fmt.Sprintf("%d done, avg %s, p95 %s",
				stage.Completed,
				time.Duration(stage.AvgDuration).Round(time.Millisecond),
				time.Duration(stage.P95Duration).Round(time.Millisecond)),
		})
	}
	pipeline.Render()

	fmt.Println()

	recent := table.NewWriter()
	recent.SetOutputMirror(os.Stdout)
	if tty {
		recent.SetStyle(table.StyleLight)
	}
	recent.AppendHeader(table.Row{"ID", "Title", "Agent", "Status", "Words"})
	for _, rec := range list.Recordings {
		recent.AppendRow(table.Row{
			shorten(rec.ID, 8),
			shorten(rec.Title, 36),
			rec.AgentName,
			colorStatus(rec.Status, tty),
			rec.WordCount,
		})
	}
	recent.Render()
}

func fetchJSON(client *http.Client, url string, target any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func colorStatus(status string, tty bool) string {
	if !tty {
		return status
	}

	switch status {
	case "completed":
		return text.FgGreen.Sprint(status)
	case "failed":
		return text.FgRed.Sprint(status)
	case "transcribing", "analyzing":
		return text.FgYellow.Sprint(status)
	default:
		return status
	}
}

func shorten(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
