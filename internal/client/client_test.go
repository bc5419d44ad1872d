package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/btgate/internal/gateway"
	"github.com/muurk/btgate/internal/notify"
	"github.com/muurk/btgate/internal/radio/sim"
	"github.com/muurk/btgate/internal/server"
)

func newGatewayAPI(t *testing.T, scenario *sim.Scenario) (*gateway.Gateway, *httptest.Server) {
	t.Helper()
	radio, err := sim.New(scenario)
	if err != nil {
		t.Fatalf("sim.New() error = %v", err)
	}
	gw := gateway.New(radio, gateway.Options{Period: 20 * time.Millisecond})
	t.Cleanup(func() { _ = gw.Close() })

	srv, err := server.New(&server.Config{}, gw)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return gw, ts
}

func TestNewClientBaseURL(t *testing.T) {
	tests := []struct {
		in, want, feed string
	}{
		{"127.0.0.1:8380", "http://127.0.0.1:8380", "ws://127.0.0.1:8380/api/v1/feed"},
		{"http://edge.local:8380/", "http://edge.local:8380", "ws://edge.local:8380/api/v1/feed"},
		{"https://edge.local", "https://edge.local", "wss://edge.local/api/v1/feed"},
	}
	for _, tt := range tests {
		c := NewClient(tt.in)
		if c.BaseURL != tt.want {
			t.Errorf("NewClient(%q).BaseURL = %q, want %q", tt.in, c.BaseURL, tt.want)
		}
		if got := c.FeedURL(); got != tt.feed {
			t.Errorf("FeedURL() = %q, want %q", got, tt.feed)
		}
	}
}

func TestClientStartStop(t *testing.T) {
	_, ts := newGatewayAPI(t, &sim.Scenario{
		Devices: []sim.Device{{Address: "000000000001", Name: "sensor", Present: true,
			Services: []sim.Service{{Channel: 1}}}},
	})
	c := NewClient(ts.URL)
	ctx := context.Background()

	st, err := c.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !st.Running {
		t.Error("Start() status not running")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		sets, err := c.Endpoints(ctx)
		if err != nil {
			t.Fatalf("Endpoints() error = %v", err)
		}
		if len(sets) == 1 && len(sets[0].Endpoints) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Endpoints() = %+v, want one resolved device", sets)
		}
		time.Sleep(10 * time.Millisecond)
	}

	devices, err := c.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].Name != "sensor" {
		t.Errorf("Devices() = %+v, want the sensor", devices)
	}

	st, err = c.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if st.Running {
		t.Error("Stop() status still running")
	}
}

func TestClientStartErrorNotRetried(t *testing.T) {
	_, ts := newGatewayAPI(t, &sim.Scenario{PoweredOff: true})
	c := NewClient(ts.URL)

	_, err := c.Start(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Start() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, http.StatusServiceUnavailable)
	}
	if IsRetryable(err) {
		t.Error("adapter-off error reported retryable")
	}
	if got := ShortMessage(err); got != "Radio adapter is off" {
		t.Errorf("ShortMessage() = %q", got)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"running":true,"stack":"bluez"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	c.SetRetry(3, time.Millisecond)

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.Running || st.Stack != "bluez" {
		t.Errorf("Status() = %+v", st)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestClientParseError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).Devices(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Type != ErrTypeParse {
		t.Errorf("Devices() error = %v, want parse error", err)
	}
}

func TestClientConnectionRefusedRetryable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := NewClient(url)
	c.SetRetry(1, time.Millisecond)
	_, err := c.Status(context.Background())
	if err == nil {
		t.Fatal("Status() error = nil, want connection error")
	}
	if !IsRetryable(err) {
		t.Errorf("IsRetryable(%v) = false, want true", err)
	}
}

func TestWatchStreamsEvents(t *testing.T) {
	gw, ts := newGatewayAPI(t, &sim.Scenario{
		Devices: []sim.Device{{Address: "000000000001", Name: "sensor", Present: true}},
	})
	c := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu     sync.Mutex
		states []FeedState
	)
	arrived := make(chan notify.Event, 1)
	connected := make(chan struct{})
	var once sync.Once

	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, FeedHandler{
			Event: func(e notify.Event) {
				if e.Kind == notify.KindArrival {
					select {
					case arrived <- e:
					default:
					}
				}
			},
			State: func(s FeedState, err error) {
				mu.Lock()
				states = append(states, s)
				mu.Unlock()
				if s == FeedConnected {
					once.Do(func() { close(connected) })
				}
			},
		})
	}()

	select {
	case <-connected:
	case <-ctx.Done():
		t.Fatal("feed never connected")
	}
	if err := gw.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case e := <-arrived:
		if e.Address != "000000000001" {
			t.Errorf("arrival address = %s, want 000000000001", e.Address)
		}
	case <-ctx.Done():
		t.Fatal("no arrival event received")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v, want nil after cancel", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[0] != FeedConnecting || states[1] != FeedConnected {
		t.Errorf("states = %v, want connecting then connected", states)
	}
}

func TestWatchStopsOnPermanentError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := NewClient(ts.URL).Watch(ctx, FeedHandler{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("Watch() error = %v, want 404 handshake error", err)
	}
}
