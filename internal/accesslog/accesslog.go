// Package accesslog writes one combined-format line per HTTP request.
package accesslog

import (
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
)

// TimeLayout is the bracketed timestamp layout of the combined format.
const TimeLayout = "02/Jan/2006:15:04:05 -0700"

// Entry holds the fields of one access-log line.
type Entry struct {
	RemoteAddr string
	User       string
	Time       time.Time
	Method     string
	URI        string
	Proto      string
	Status     int
	Size       int64
	Referer    string
	UserAgent  string
}

// Format renders e in the combined log format:
//
//	127.0.0.1 - - [18/Oct/2026:10:00:00 +0000] "GET / HTTP/1.1" 200 11 "-" "curl/8.5.0"
func Format(e Entry) string {
	var b strings.Builder
	b.WriteString(orDash(e.RemoteAddr))
	b.WriteString(" - ")
	b.WriteString(orDash(e.User))
	b.WriteString(" [")
	b.WriteString(e.Time.UTC().Format(TimeLayout))
	b.WriteString(`] "`)
	b.WriteString(e.Method)
	b.WriteByte(' ')
	b.WriteString(e.URI)
	b.WriteByte(' ')
	b.WriteString(e.Proto)
	b.WriteString(`" `)
	b.WriteString(strconv.Itoa(e.Status))
	b.WriteByte(' ')
	if e.Size > 0 {
		b.WriteString(strconv.FormatInt(e.Size, 10))
	} else {
		b.WriteByte('-')
	}
	b.WriteString(` "`)
	b.WriteString(escape(orDash(e.Referer)))
	b.WriteString(`" "`)
	b.WriteString(escape(orDash(e.UserAgent)))
	b.WriteString("\"\n")
	return b.String()
}

// Logger writes access lines to an io.Writer. Lines from concurrent
// requests never interleave.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

// New creates a Logger writing to out.
func New(out io.Writer) *Logger {
	return &Logger{out: out, now: time.Now}
}

// Middleware returns middleware writing one line to out per request.
func Middleware(out io.Writer) func(http.Handler) http.Handler {
	return New(out).Middleware
}

// Middleware wraps next. The line is written after next returns, so it
// records the final status and size. If next panics the panic propagates
// after a 500 line is written.
func (l *Logger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := l.now()
		var (
			status      = http.StatusOK
			wroteHeader bool
			written     int64
		)

		hooked := httpsnoop.Wrap(w, httpsnoop.Hooks{
			WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
				return func(code int) {
					next(code)
					if !wroteHeader && code >= 200 {
						status = code
						wroteHeader = true
					}
				}
			},
			Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
				return func(p []byte) (int, error) {
					n, err := next(p)
					wroteHeader = true
					written += int64(n)
					return n, err
				}
			},
			ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
				return func(src io.Reader) (int64, error) {
					n, err := next(src)
					wroteHeader = true
					written += n
					return n, err
				}
			},
		})

		defer func() {
			if p := recover(); p != nil {
				if !wroteHeader {
					status = http.StatusInternalServerError
				}
				l.write(r, start, status, size(w.Header(), written))
				panic(p)
			}
			l.write(r, start, status, size(w.Header(), written))
		}()

		next.ServeHTTP(hooked, r)
	})
}

func (l *Logger) write(r *http.Request, start time.Time, status int, n int64) {
	user, _, _ := r.BasicAuth()
	uri := r.RequestURI
	if uri == "" {
		uri = r.URL.RequestURI()
	}
	line := Format(Entry{
		RemoteAddr: remoteHost(r.RemoteAddr),
		User:       user,
		Time:       start,
		Method:     r.Method,
		URI:        escape(uri),
		Proto:      "HTTP/" + strconv.Itoa(r.ProtoMajor) + "." + strconv.Itoa(r.ProtoMinor),
		Status:     status,
		Size:       n,
		Referer:    r.Referer(),
		UserAgent:  r.UserAgent(),
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, line)
}

// size prefers the declared Content-Length, as HEAD responses declare a
// length without writing a body.
func size(h http.Header, written int64) int64 {
	if cl := h.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return n
		}
	}
	return written
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// escape keeps quoted fields on one line with balanced quotes.
func escape(s string) string {
	if !strings.ContainsAny(s, "\"\\\n\r") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
	return r.Replace(s)
}
