package stream

import (
	"encoding/json"
	"errors"
	"io"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/chosenoffset/mal/pkg/mal/emit"
	"github.com/chosenoffset/mal/pkg/mal/sample"
	"github.com/chosenoffset/mal/pkg/mal/value"
)

func quietServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(0, log.New(io.Discard, "", 0))
	t.Cleanup(func() { s.Stop() })
	return s
}

func event(metric string, v value.Value, err error) emit.Event {
	return emit.NewEvent(ulid.Make(), metric, v, err, time.Now())
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func getJSON(t *testing.T, url string, into interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Status != "ok" {
		t.Fatalf("expected status ok, got %q", env.Status)
	}
	if err := json.Unmarshal(env.Data, into); err != nil {
		t.Fatal(err)
	}
}

func TestResults(t *testing.T) {
	s := quietServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	cpu := sample.New(sample.Sample{Name: "cpu", Labels: map[string]string{"host": "a"}, Value: 5})
	s.Handle(event("b_cpu", value.Family(cpu), nil))
	s.Handle(event("a_fail", value.Value{}, errors.New("boom")))
	s.Handle(event("c_ratio", value.Scalar(0.5), nil))

	var results []Result
	getJSON(t, srv.URL+"/api/results", &results)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Metric != "a_fail" || results[0].Kind != emit.Failure || results[0].Error != "boom" {
		t.Errorf("unexpected failure result %+v", results[0])
	}
	if results[1].ValueKind != "SAMPLE_FAMILY" {
		t.Errorf("expected sample family, got %q", results[1].ValueKind)
	}
	if results[2].Value != 0.5 {
		t.Errorf("expected 0.5, got %v", results[2].Value)
	}

	s.Handle(event("c_ratio", value.Scalar(0.75), nil))
	if latest := s.Latest(); latest[2].Value.(*float64) == nil || *latest[2].Value.(*float64) != 0.75 {
		t.Errorf("expected latest result to replace the previous one")
	}
}

func TestPrograms(t *testing.T) {
	s := quietServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	var programs []Program
	getJSON(t, srv.URL+"/api/programs", &programs)
	if len(programs) != 0 {
		t.Errorf("expected no programs, got %v", programs)
	}

	s.SetProgramsProvider(func() []Program {
		return []Program{{Metric: "cpu", Source: "cpu.sum()", Disassembly: "program cpu\n"}}
	})
	getJSON(t, srv.URL+"/api/programs", &programs)
	if len(programs) != 1 || programs[0].Source != "cpu.sum()" {
		t.Errorf("unexpected programs %v", programs)
	}
}

func TestWebSocket(t *testing.T) {
	s := quietServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		s.clientsMu.RLock()
		n := len(s.clients)
		s.clientsMu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Handle(event("cpu", value.Scalar(3), nil))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string `json:"type"`
		Data Result `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "result" || msg.Data.Metric != "cpu" || msg.Data.Value != 3.0 {
		t.Errorf("unexpected message %+v", msg)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestRestart(t *testing.T) {
	port := freePort(t)
	s := NewServer(port, log.New(io.Discard, "", 0))
	defer s.Stop()

	for i := 0; i < 2; i++ {
		if err := s.Start(); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if i == 0 {
			if err := s.Stop(); err != nil {
				t.Fatalf("stop: %v", err)
			}
		}
	}
	if err := s.Start(); err != nil {
		t.Errorf("start on a running server should be a no-op: %v", err)
	}

	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		s.clientsMu.RLock()
		n := len(s.clients)
		s.clientsMu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Handle(event("mem", value.Scalar(7), nil))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string `json:"type"`
		Data Result `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("no result after restart: %v", err)
	}
	if msg.Data.Metric != "mem" || msg.Data.Value != 7.0 {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	s := quietServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, _, err := websocket.DefaultDialer.Dial(url, header); err == nil {
		t.Error("expected the handshake to fail for a foreign origin")
	}
}

func TestEncodeNonFinite(t *testing.T) {
	sf := sample.New(sample.Sample{Name: "x", Labels: map[string]string{}, Value: 0})
	sf.Samples[0].Value = sf.Samples[0].Value / sf.Samples[0].Value
	r := encodeEvent(event("x", value.Family(sf), nil))
	samples := r.Value.([]jsonSample)
	if samples[0].Value != nil {
		t.Errorf("expected NaN to encode as null, got %v", *samples[0].Value)
	}
}
