// transcriber is a fake transcription backend for local development.
// It accepts publish requests, "processes" them for a configurable
// delay, then serves a canned transcript.
//
// Usage:
//
//	go run ./scripts/transcriber -port 8090 -delay 2s
//
// With -fail-every N, every Nth job reports a transcription failure so
// the pipeline's error handling can be exercised.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

type response struct {
	Code   int          `json:"Code"`
	Status string       `json:"Status,omitempty"`
	Data   responseData `json:"Data"`
	Reason string       `json:"Reason,omitempty"`
}

type responseData struct {
	MediaId              string `json:"MediaId,omitempty"`
	Status               string `json:"Status,omitempty"`
	TranscriptionTextURL string `json:"TranscriptionTextURL,omitempty"`
	WordsCount           int    `json:"WordsCount,omitempty"`
}

var transcripts = []string{
	"Thanks for taking the time today. We have budget approved for this quarter and the pricing you sent looks reasonable. Can we schedule a demo for the whole team next week? Our decision maker wants to see the reporting features before we commit to a timeline.",
	"I am frustrated that the last invoice was wrong again. This is the third time. If the pricing keeps changing we will have to look at competitors. I need someone with authority to call me back today and walk me through the contract.",
	"Great to meet you. We are early in the process, still mapping out requirements and who needs to sign off. There is no budget allocated yet but the pain point is real, our agents spend hours on manual call review. What would an evaluation timeline look like?",
}

type job struct {
	readyAt    time.Time
	transcript string
	fail       bool
}

type server struct {
	mutex     sync.Mutex
	jobs      map[string]*job
	seq       int
	delay     time.Duration
	failEvery int
}

func main() {
	port := flag.Int("port", 8090, "port to listen on")
	delay := flag.Duration("delay", 2*time.Second, "simulated processing time")
	failEvery := flag.Int("fail-every", 0, "fail every Nth job (0 disables)")
	flag.Parse()

	s := &server{
		jobs:      make(map[string]*job),
		delay:     *delay,
		failEvery: *failEvery,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /transcribe", s.publish)
	mux.HandleFunc("GET /getstatus", s.status)
	mux.HandleFunc("GET /transcripts/{file}", s.transcript)

	log.Printf("fake transcriber listening on :%d (delay %s)", *port, *delay)
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", *port), mux))
}

func (s *server) publish(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeJSON(w, response{Code: 400, Reason: "malformed multipart body"})
		return
	}

	source := r.FormValue("callRecordingLink")
	if source == "" {
		if _, header, err := r.FormFile("file"); err == nil {
			source = header.Filename
		}
	}

	s.mutex.Lock()
	s.seq++
	id := fmt.Sprintf("media-%d", s.seq)
	s.jobs[id] = &job{
		readyAt:    time.Now().Add(s.delay),
		transcript: transcripts[(s.seq-1)%len(transcripts)],
		fail:       s.failEvery > 0 && s.seq%s.failEvery == 0,
	}
	s.mutex.Unlock()

	log.Printf("accepted %s source=%q callType=%q", id, source, r.FormValue("callType"))
	writeJSON(w, response{Code: 200, Data: responseData{MediaId: id}})
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("mediaId")

	s.mutex.Lock()
	j, ok := s.jobs[id]
	s.mutex.Unlock()

	switch {
	case !ok:
		writeJSON(w, response{Code: 200, Data: responseData{Status: "Failed"}, Reason: "unknown media id"})
	case j.fail && time.Now().After(j.readyAt):
		log.Printf("%s failed (simulated)", id)
		writeJSON(w, response{Code: 200, Data: responseData{Status: "Failed"}, Reason: "simulated transcription failure"})
	case time.Now().Before(j.readyAt):
		writeJSON(w, response{Code: 200, Data: responseData{Status: "Processing"}})
	default:
		writeJSON(w, response{Code: 200, Data: responseData{
			Status:               "Success",
			TranscriptionTextURL: "/transcripts/" + id + ".txt",
			WordsCount:           len(strings.Fields(j.transcript)),
		}})
	}
}

func (s *server) transcript(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(r.PathValue("file"), ".txt")

	s.mutex.Lock()
	j, ok := s.jobs[id]
	s.mutex.Unlock()

	if !ok {
		http.Error(w, "unknown media id", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, j.transcript)
}

func writeJSON(w http.ResponseWriter, payload response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}
