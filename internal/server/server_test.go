package server

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"pubsrv/internal/config"
	"pubsrv/internal/errors"
	"pubsrv/internal/slogutil"
	"pubsrv/internal/static"
)

// syncBuffer is a bytes.Buffer safe for a server goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testServer struct {
	*Server
	root      string
	stderr    *syncBuffer
	accessLog *syncBuffer
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	root := filepath.Join(t.TempDir(), "publications")
	if err := os.MkdirAll(filepath.Join(root, "papers"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "papers", "paper.txt"), "a short paper\n")
	writeFile(t, filepath.Join(root, "logo.svg"), "<svg/>")
	writeFile(t, filepath.Join(root, ".secret"), "hidden")
	writeFile(t, filepath.Join(filepath.Dir(root), "passwd"), "root:x:0:0")

	cfg := config.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.StaticRoot = root
	if mutate != nil {
		mutate(cfg)
	}

	files, err := static.Open(root)
	if err != nil {
		t.Fatalf("static.Open() error = %v", err)
	}
	t.Cleanup(func() { files.Close() })

	stderr, access := &syncBuffer{}, &syncBuffer{}
	s := NewServer(cfg, files, slogutil.NewLogger(stderr, slog.LevelDebug), access)
	return &testServer{Server: s, root: root, stderr: stderr, accessLog: access}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (ts *testServer) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/", nil)
	req.URL.Path = target
	req.RequestURI = target
	rr := httptest.NewRecorder()
	ts.ServeHTTP(rr, req)
	return rr
}

func (ts *testServer) accessLines() []string {
	out := strings.TrimSuffix(ts.accessLog.String(), "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodGet, "/")

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if rr.Body.String() != "Hello word!" {
		t.Errorf("body = %q, want %q", rr.Body.String(), "Hello word!")
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
}

func TestRoot_Head(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodHead, "/")

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if rr.Header().Get("Content-Length") != "11" {
		t.Errorf("Content-Length = %q, want 11", rr.Header().Get("Content-Length"))
	}
}

func TestStaticFile(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		path     string
		wantBody string
		wantType string
	}{
		{"/papers/paper.txt", "a short paper\n", "text/plain; charset=utf-8"},
		{"/logo.svg", "<svg/>", "image/svg+xml"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := ts.do(http.MethodGet, tt.path)
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rr.Code)
			}
			if rr.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rr.Body.String(), tt.wantBody)
			}
			if got := rr.Header().Get("Content-Type"); got != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestStaticFileShadowsNothingAtRoot(t *testing.T) {
	ts := newTestServer(t, nil)
	writeFile(t, filepath.Join(ts.root, "index.html"), "<h1>index</h1>")

	rr := ts.do(http.MethodGet, "/")
	if rr.Body.String() != "Hello word!" {
		t.Errorf("GET / body = %q, directory index must not be served", rr.Body.String())
	}
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"missing file", http.MethodGet, "/nope.html"},
		{"directory", http.MethodGet, "/papers"},
		{"directory slash", http.MethodGet, "/papers/"},
		{"dotfile", http.MethodGet, "/.secret"},
		{"traversal", http.MethodGet, "/../passwd"},
		{"deep traversal", http.MethodGet, "/../../etc/passwd"},
		{"encoded-looking traversal", http.MethodGet, "/papers/../../passwd"},
		{"post root", http.MethodPost, "/"},
		{"post file", http.MethodPost, "/papers/paper.txt"},
		{"put", http.MethodPut, "/anything"},
		{"delete", http.MethodDelete, "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(tt.method, tt.path)
			if rr.Code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", rr.Code)
			}
			if rr.Body.String() != "Not Found!" {
				t.Errorf("body = %q, want %q", rr.Body.String(), "Not Found!")
			}
			if strings.Contains(rr.Body.String(), "root:x") {
				t.Error("file outside the static root was disclosed")
			}
		})
	}
}

func TestHandlerFault(t *testing.T) {
	ts := newTestServer(t, nil)
	failing := ts.applyMiddleware(ts.handle(func(w http.ResponseWriter, r *http.Request) error {
		return errors.Wrap(errors.HandlerFault, stderrors.New("disk read failed at sector 7"), "read publication")
	}))

	rr := httptest.NewRecorder()
	failing.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/papers/paper.txt", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	if rr.Body.String() != "Something broke!" {
		t.Errorf("body = %q, want %q", rr.Body.String(), "Something broke!")
	}
	if strings.Contains(rr.Body.String(), "sector 7") {
		t.Error("fault detail leaked into the response body")
	}

	stderr := ts.stderr.String()
	if !strings.Contains(stderr, "disk read failed at sector 7") {
		t.Errorf("fault not logged to stderr: %s", stderr)
	}
	if !strings.Contains(stderr, "TestHandlerFault") {
		t.Errorf("fault trace missing stack frames: %s", stderr)
	}
	if lines := ts.accessLines(); len(lines) != 1 || !strings.Contains(lines[0], `" 500 `) {
		t.Errorf("access log = %q, want one 500 line", lines)
	}
}

func TestPanicRecovered(t *testing.T) {
	ts := newTestServer(t, nil)
	failing := ts.applyMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil map write in renderer")
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	failing.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	if rr.Body.String() != "Something broke!" {
		t.Errorf("body = %q", rr.Body.String())
	}

	stderr := ts.stderr.String()
	for _, want := range []string{"nil map write in renderer", "requestID=req-42", "runtime/debug.Stack"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("stderr missing %q: %s", want, stderr)
		}
	}
	if lines := ts.accessLines(); len(lines) != 1 || !strings.Contains(lines[0], `"GET /boom HTTP/1.1" 500 `) {
		t.Errorf("access log = %q, want one 500 line", lines)
	}
}

func TestFaultAfterResponseStarted(t *testing.T) {
	ts := newTestServer(t, nil)
	failing := ts.applyMiddleware(ts.handle(func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		return errors.New(errors.HandlerFault, "connection reset mid-stream")
	}))

	rr := httptest.NewRecorder()
	failing.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/big.bin", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want the already-sent 200", rr.Code)
	}
	if rr.Body.String() != "partial" {
		t.Errorf("body = %q, the 500 body must not be appended", rr.Body.String())
	}
	if !strings.Contains(ts.stderr.String(), "responseStarted=true") {
		t.Errorf("stderr should record the started response: %s", ts.stderr.String())
	}
}

func TestStaticPermissionFault(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("file modes are not enforced for this user")
	}
	ts := newTestServer(t, nil)
	if err := os.WriteFile(filepath.Join(ts.root, "locked.pdf"), []byte("x"), 0o000); err != nil {
		t.Fatal(err)
	}

	rr := ts.do(http.MethodGet, "/locked.pdf")

	if rr.Code != http.StatusInternalServerError || rr.Body.String() != "Something broke!" {
		t.Errorf("got %d %q, want 500 Something broke!", rr.Code, rr.Body.String())
	}
	if !strings.Contains(ts.stderr.String(), "permission denied") {
		t.Errorf("stderr missing cause: %s", ts.stderr.String())
	}
}

func TestAccessLog_OneLinePerRequest(t *testing.T) {
	ts := newTestServer(t, nil)

	paths := []string{"/", "/papers/paper.txt", "/missing", "/../../etc/passwd"}
	for _, p := range paths {
		ts.do(http.MethodGet, p)
	}

	lines := ts.accessLines()
	if len(lines) != len(paths) {
		t.Fatalf("got %d access lines, want %d: %q", len(lines), len(paths), lines)
	}
	wantStatus := []string{"200", "200", "404", "404"}
	for i, l := range lines {
		if !strings.Contains(l, `"GET `+paths[i]+` HTTP/1.1" `+wantStatus[i]+" ") {
			t.Errorf("line %d = %q, want %s %s", i, l, paths[i], wantStatus[i])
		}
	}
	if strings.Contains(ts.stderr.String(), "Request failed") {
		t.Errorf("normal requests must not log faults: %s", ts.stderr.String())
	}
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodGet, "/")
	if id := rr.Header().Get(RequestIDHeader); len(id) != 36 {
		t.Errorf("generated %s = %q, want a UUID", RequestIDHeader, id)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "trace-abc")
	rr = httptest.NewRecorder()
	ts.ServeHTTP(rr, req)
	if id := rr.Header().Get(RequestIDHeader); id != "trace-abc" {
		t.Errorf("%s = %q, want echoed trace-abc", RequestIDHeader, id)
	}
}

func TestGetRequestID_Empty(t *testing.T) {
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("GetRequestID() = %q, want empty", id)
	}
}

func TestCompression(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Compress = true })
	content := strings.Repeat("publication body line\n", 400)
	writeFile(t, filepath.Join(ts.root, "long.txt"), content)

	req := httptest.NewRequest(http.MethodGet, "/long.txt", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	ts.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", rr.Header().Get("Content-Encoding"))
	}
	zr, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip body: %v", err)
	}
	if string(got) != content {
		t.Error("decompressed body differs from the file")
	}

	// Without Accept-Encoding the bytes are sent as-is.
	plain := ts.do(http.MethodGet, "/long.txt")
	if plain.Header().Get("Content-Encoding") != "" || plain.Body.String() != content {
		t.Error("uncompressed response should match the file byte for byte")
	}
}

func TestNewServer_NilStatic(t *testing.T) {
	cfg := config.DefaultConfig()
	s := NewServer(cfg, nil, slogutil.NewDiscardLogger(), io.Discard)

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/anything.txt", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestStartAndDoubleBind(t *testing.T) {
	first := newTestServer(t, nil)
	if err := first.Listen(); err != nil {
		t.Fatalf("first Listen() error = %v", err)
	}

	served := make(chan error, 1)
	go func() { served <- first.Serve() }()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := first.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
		if err := <-served; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	}()

	resp, err := http.Get("http://" + first.Addr() + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "Hello word!" {
		t.Errorf("GET / = %d %q", resp.StatusCode, body)
	}

	_, port, err := net.SplitHostPort(first.Addr())
	if err != nil {
		t.Fatal(err)
	}
	second := newTestServer(t, func(c *config.Config) { c.Port, _ = strconv.Atoi(port) })

	done := make(chan error, 1)
	go func() { done <- second.Start() }()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("second Start() on a bound port should fail")
		}
		if code := errors.CodeOf(err); code != errors.StartupFault {
			t.Errorf("CodeOf(err) = %v, want %v", code, errors.StartupFault)
		}
		if !strings.Contains(err.Error(), first.Addr()) {
			t.Errorf("diagnostic %q should name the address", err.Error())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second Start() hung instead of failing")
	}
}

func TestServeBeforeListen(t *testing.T) {
	ts := newTestServer(t, nil)
	if err := ts.Serve(); errors.CodeOf(err) != errors.StartupFault {
		t.Errorf("Serve() error = %v, want StartupFault", err)
	}
}

func TestShutdownWithoutServe(t *testing.T) {
	ts := newTestServer(t, nil)
	if err := ts.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	addr := ts.Addr()

	if err := ts.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("address still bound after Shutdown: %v", err)
	}
	ln.Close()
}
