package pipeline_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/soundscribe/analytics-service/internal/pipeline"
)

var _ = Describe("TranscriberClient", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	newClient := func(baseURL string, attempts int) *pipeline.TranscriberClient {
		return pipeline.NewTranscriberClient(baseURL, 5*time.Millisecond, attempts, testLogger())
	}

	It("publishes a remote link, polls and downloads the transcript", func() {
		var polls int32
		var gotLink, gotCallType string

		mux := http.NewServeMux()
		mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
			Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
			gotLink = r.FormValue("callRecordingLink")
			gotCallType = r.FormValue("callType")
			fmt.Fprint(w, `{"Code":200,"Status":"ok","Data":{"MediaId":"media-1","Status":"Queued"}}`)
		})
		mux.HandleFunc("/getstatus", func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Query().Get("mediaId")).To(Equal("media-1"))
			if atomic.AddInt32(&polls, 1) < 2 {
				fmt.Fprint(w, `{"Code":200,"Status":"ok","Data":{"Status":"Processing"}}`)
				return
			}
			fmt.Fprint(w, `{"Code":200,"Status":"ok","Data":{"Status":"Success","TranscriptionTextURL":"/files/media-1.txt"}}`)
		})
		mux.HandleFunc("/files/media-1.txt", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "hello from the call")
		})

		server := httptest.NewServer(mux)
		DeferCleanup(server.Close)

		transcript, err := newClient(server.URL, 10).Transcribe(ctx, "https://cdn.example.com/call.mp3", "C2C")

		Expect(err).NotTo(HaveOccurred())
		Expect(transcript).To(Equal("hello from the call"))
		Expect(gotLink).To(Equal("https://cdn.example.com/call.mp3"))
		Expect(gotCallType).To(Equal("C2C"))
		Expect(atomic.LoadInt32(&polls)).To(Equal(int32(2)))
	})

	It("skips polling when the transcription already exists", func() {
		var polls int32

		mux := http.NewServeMux()
		mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"Code":200,"Status":"ok","Data":{"Status":"Success","TranscriptionURL":"/files/cached.txt"}}`)
		})
		mux.HandleFunc("/getstatus", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&polls, 1)
		})
		mux.HandleFunc("/files/cached.txt", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "cached transcript")
		})

		server := httptest.NewServer(mux)
		DeferCleanup(server.Close)

		transcript, err := newClient(server.URL, 10).Transcribe(ctx, "https://cdn.example.com/call.mp3", "")

		Expect(err).NotTo(HaveOccurred())
		Expect(transcript).To(Equal("cached transcript"))
		Expect(atomic.LoadInt32(&polls)).To(BeZero())
	})

	It("uploads local files as multipart attachments", func() {
		audioPath := filepath.Join(GinkgoT().TempDir(), "call.wav")
		Expect(os.WriteFile(audioPath, []byte("RIFF-fake-audio"), 0o644)).To(Succeed())

		var gotFileName, gotFileBody, gotCallType string

		mux := http.NewServeMux()
		mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
			file, header, err := r.FormFile("file")
			Expect(err).NotTo(HaveOccurred())
			defer file.Close()

			content, err := io.ReadAll(file)
			Expect(err).NotTo(HaveOccurred())

			gotFileName = header.Filename
			gotFileBody = string(content)
			gotCallType = r.FormValue("callType")
			fmt.Fprint(w, `{"Code":200,"Status":"ok","Data":{"Status":"Success","TranscriptionURL":"/files/done.txt"}}`)
		})
		mux.HandleFunc("/files/done.txt", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "file transcript")
		})

		server := httptest.NewServer(mux)
		DeferCleanup(server.Close)

		transcript, err := newClient(server.URL, 10).Transcribe(ctx, audioPath, "")

		Expect(err).NotTo(HaveOccurred())
		Expect(transcript).To(Equal("file transcript"))
		Expect(gotFileName).To(Equal("call.wav"))
		Expect(gotFileBody).To(Equal("RIFF-fake-audio"))
		Expect(gotCallType).To(Equal("PNS"))
	})

	It("fails when the backend reports a failed transcription", func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"Code":200,"Status":"ok","Data":{"MediaId":"media-2","Status":"Queued"}}`)
		})
		mux.HandleFunc("/getstatus", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"Code":200,"Status":"ok","Data":{"Status":"Failed"},"Reason":"unreadable audio"}`)
		})

		server := httptest.NewServer(mux)
		DeferCleanup(server.Close)

		_, err := newClient(server.URL, 10).Transcribe(ctx, "https://cdn.example.com/bad.mp3", "")

		Expect(err).To(MatchError(ContainSubstring("unreadable audio")))
	})

	It("gives up after the configured number of polls", func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"Code":200,"Status":"ok","Data":{"MediaId":"media-3","Status":"Queued"}}`)
		})
		mux.HandleFunc("/getstatus", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"Code":200,"Status":"ok","Data":{"Status":"Processing"}}`)
		})

		server := httptest.NewServer(mux)
		DeferCleanup(server.Close)

		_, err := newClient(server.URL, 2).Transcribe(ctx, "https://cdn.example.com/slow.mp3", "")

		Expect(err).To(MatchError(ContainSubstring("timed out after 2 polls")))
	})

	It("surfaces publish rejections", func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"Code":422,"Status":"error","Reason":"unsupported format"}`)
		})

		server := httptest.NewServer(mux)
		DeferCleanup(server.Close)

		_, err := newClient(server.URL, 2).Transcribe(ctx, "https://cdn.example.com/odd.ogg", "")

		Expect(err).To(MatchError(ContainSubstring("unsupported format")))
	})
})
