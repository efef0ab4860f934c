package flog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Level int

const None Level = -1
const (
	Debug Level = iota
	Info
	Warn
	Error
	Fatal
)

const timeLayout = "2006-01-02 15:04:05.000"

var (
	minLevel  atomic.Int32
	logCh     = make(chan string, 1024)
	dropped   atomic.Uint64
	startOnce sync.Once

	outMu sync.Mutex
	out   io.Writer = os.Stdout
)

func init() {
	minLevel.Store(int32(Info))
}

// FileOptions describes a size-rotated log file sink.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetFile redirects log lines to a rotating file. An empty path keeps stdout.
func SetFile(opts FileOptions) io.Closer {
	if opts.Path == "" {
		return io.NopCloser(nil)
	}
	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	SetOutput(lj)
	return lj
}

func SetOutput(w io.Writer) {
	outMu.Lock()
	out = w
	outMu.Unlock()
}

func write(s string) {
	outMu.Lock()
	_, _ = io.WriteString(out, s)
	outMu.Unlock()
}

func SetLevel(l int) {
	minLevel.Store(int32(l))
	if l == int(None) {
		return
	}

	startOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case msg, ok := <-logCh:
					if !ok {
						return
					}
					write(msg)
				case <-ticker.C:
					if n := dropped.Swap(0); n > 0 {
						write(fmt.Sprintf("%s [WARN] flog: dropped %d log lines (logCh full)\n", time.Now().Format(timeLayout), n))
					}
				}
			}
		}()
	})
}

// ParseLevel maps a config level name to a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "none":
		return None, true
	case "debug":
		return Debug, true
	case "info":
		return Info, true
	case "warn":
		return Warn, true
	case "error":
		return Error, true
	case "fatal":
		return Fatal, true
	}
	return Info, false
}

func Enabled(level Level) bool {
	min := Level(minLevel.Load())
	return min != None && level >= min
}

func logf(level Level, format string, args ...any) {
	if !Enabled(level) {
		return
	}

	line := fmt.Sprintf("%s [%s] %s\n", time.Now().Format(timeLayout), level.String(), fmt.Sprintf(format, args...))

	select {
	case logCh <- line:
	default:
		dropped.Add(1)
	}
}

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	case None:
		return "None"
	default:
		return "UNKNOWN"
	}
}

func Debugf(format string, args ...any) { logf(Debug, format, args...) }
func Infof(format string, args ...any)  { logf(Info, format, args...) }
func Warnf(format string, args ...any)  { logf(Warn, format, args...) }
func Errorf(format string, args ...any) { logf(Error, format, args...) }
func Fatalf(format string, args ...any) {
	logf(Fatal, format, args...)
	// flush logs (optional: small sleep to let goroutine write)
	time.Sleep(10 * time.Millisecond)
	os.Exit(1)
}

func Close() { close(logCh) }
