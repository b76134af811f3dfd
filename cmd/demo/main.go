package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/chosenoffset/mal/pkg/mal"
	"github.com/chosenoffset/mal/pkg/mal/emit"
	"github.com/chosenoffset/mal/pkg/mal/rules"
)

func main() {
	rulesDir := flag.String("rules", "", "directory of YAML rule files to load in addition to the built-in rules")
	port := flag.Int("port", 9090, "result stream port, 0 disables it")
	flag.Parse()

	fmt.Println("Starting MAL engine demo...")

	logger := log.New(os.Stdout, "", log.LstdFlags)
	engine := mal.NewEngine(
		mal.WithInterval(2*time.Second),
		mal.WithLogger(logger),
		mal.WithStream(*port),
	)

	builtin := []struct {
		name   string
		source string
	}{
		{
			name:   "heap_mb",
			source: `go_heap_alloc_bytes / 1024 / 1024`,
		},
		{
			name:   "memory_by_area",
			source: `go_memory_bytes.sum(['area'])`,
		},
		{
			name:   "requests_per_path",
			source: `http_requests_total.sum(['path'])`,
		},
		{
			name:   "server_errors",
			source: `http_requests_total.tagMatch('code', '5..').sum(['path'])`,
		},
		{
			name:   "latency_percentiles",
			source: `http_request_duration_ms_bucket.sum(['path', 'le']).histogram().histogram_percentile([50, 90, 99])`,
		},
		{
			name:   "slow_paths",
			source: `http_requests_total.tag({tags -> if (tags.path == '/slow') { tags.tier = 'slow' } else { tags.tier = 'fast' }}).sum(['tier'])`,
		},
	}

	for _, rule := range builtin {
		if err := engine.AddRule(rule.name, rule.source); err != nil {
			log.Printf("Error adding rule %s: %v", rule.name, err)
			continue
		}
		fmt.Printf("Added rule: %s\n", rule.name)
	}

	if *rulesDir != "" {
		files, err := rules.LoadDir(*rulesDir)
		if err != nil {
			log.Fatalf("Error loading rules: %v", err)
		}
		if err := engine.LoadRules(files...); err != nil {
			log.Fatalf("Error adding rules from %s: %v", *rulesDir, err)
		}
		fmt.Printf("Loaded %d rule files from %s\n", len(files), *rulesDir)
	}

	engine.OnResult(emit.Success, emit.NewLogHandler(logger))

	if err := engine.Start(); err != nil {
		log.Printf("Engine started with errors: %v", err)
	}
	defer engine.Stop()

	fmt.Println("MAL engine started!")
	fmt.Printf("Results available at: http://localhost:%d\n", *port)
	fmt.Println("API endpoints:")
	fmt.Println("  - GET /api/results   - Latest result per metric")
	fmt.Println("  - GET /api/programs  - Compiled programs")
	fmt.Println("  - GET /ws            - Live results")
	fmt.Println()
	fmt.Println("Generating load...")

	go generateLoad(engine)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func generateLoad(engine *mal.Engine) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fast", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(50+rand.Intn(200)) * time.Millisecond)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, r *http.Request) {
		if rand.Intn(4) == 0 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(engine.HTTPMiddleware()(mux))
	defer srv.Close()

	paths := []string{"/fast", "/slow", "/flaky"}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	allocations := make([][]byte, 0)
	for range ticker.C {
		resp, err := http.Get(srv.URL + paths[rand.Intn(len(paths))])
		if err == nil {
			resp.Body.Close()
		}

		if len(allocations) < 100 {
			allocations = append(allocations, make([]byte, 256*1024))
		} else {
			allocations = allocations[:50]
			runtime.GC()
		}
	}
}
