// seed submits sample call recordings to a running analytics service so
// the pipeline has data to chew on.
//
// Usage:
//
//	go run ./scripts/seed -addr http://localhost:8080 -count 6
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
)

type submission struct {
	Title     string `json:"title"`
	AgentName string `json:"agent_name"`
	CallType  string `json:"call_type"`
	AudioURL  string `json:"audio_url"`
}

type created struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	AgentName string `json:"agent_name"`
	Status    string `json:"status"`
}

var samples = []submission{
	{Title: "Renewal call with Acme", AgentName: "dana", CallType: "PNS", AudioURL: "https://cdn.example.com/calls/acme-renewal.mp3"},
	{Title: "Discovery call with Globex", AgentName: "rob", CallType: "C2C", AudioURL: "https://cdn.example.com/calls/globex-discovery.mp3"},
	{Title: "Pricing follow-up with Initech", AgentName: "dana", CallType: "PNS", AudioURL: "https://cdn.example.com/calls/initech-pricing.mp3"},
	{Title: "Demo walkthrough with Umbrella", AgentName: "maya", CallType: "C2C", AudioURL: "https://cdn.example.com/calls/umbrella-demo.mp3"},
	{Title: "Escalation call with Stark Industries", AgentName: "rob", CallType: "PNS", AudioURL: "https://cdn.example.com/calls/stark-escalation.mp3"},
	{Title: "Onboarding kickoff with Wayne Corp", AgentName: "maya", CallType: "C2C", AudioURL: "https://cdn.example.com/calls/wayne-kickoff.mp3"},
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "analytics service address")
	count := flag.Int("count", len(samples), "number of recordings to submit")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	if isatty.IsTerminal(os.Stdout.Fd()) {
		t.SetStyle(table.StyleColoredBright)
	}
	t.AppendHeader(table.Row{"#", "ID", "Title", "Agent", "Status"})

	for i := 0; i < *count; i++ {
		s := samples[i%len(samples)]
		if *count > len(samples) {
			s.Title = fmt.Sprintf("%s (%d)", s.Title, i/len(samples)+1)
		}

		rec, err := submit(client, *addr, s)
		if err != nil {
			log.Fatalf("submit %q: %v", s.Title, err)
		}
		t.AppendRow(table.Row{i + 1, rec.ID, rec.Title, rec.AgentName, rec.Status})
	}

	t.Render()
	fmt.Printf("\nSeeded %d recordings at %s\n", *count, *addr)
}

func submit(client *http.Client, addr string, s submission) (*created, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(addr+"/v1/recordings", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var rec created
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
