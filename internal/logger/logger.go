package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Logger struct {
	entry  *logrus.Entry
	secret *redactHook
}

type Options struct {
	Level   string
	Dir     string // daily files are written here when non-empty
	Name    string // file name prefix, defaults to "blingsync"
	Console bool
	Output  io.Writer // overrides Dir and Console, used by tests
}

// New returns a console logger at the given level.
func New(level string) *Logger {
	l, _ := NewWithOptions(Options{Level: level, Console: true})
	return l
}

func NewWithOptions(opts Options) (*Logger, error) {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	lvl, err := logrus.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	base.SetLevel(lvl)

	var writers []io.Writer
	switch {
	case opts.Output != nil:
		writers = append(writers, opts.Output)
	default:
		if opts.Dir != "" {
			name := opts.Name
			if name == "" {
				name = "blingsync"
			}
			df, err := newDailyFile(opts.Dir, name)
			if err != nil {
				return nil, err
			}
			writers = append(writers, df)
		}
		if opts.Console || len(writers) == 0 {
			writers = append(writers, os.Stdout)
		}
	}
	base.SetOutput(io.MultiWriter(writers...))

	hook := &redactHook{}
	base.AddHook(hook)

	return &Logger{entry: logrus.NewEntry(base), secret: hook}, nil
}

// Redact registers values that are replaced by *** wherever they appear.
func (l *Logger) Redact(values ...string) {
	l.secret.add(values...)
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields)), secret: l.secret}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value), secret: l.secret}
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.entry.Infof(msg, args...)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.entry.Debugf(msg, args...)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.entry.Warnf(msg, args...)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	l.entry.Errorf(msg, args...)
}

// Critical marks conditions that need an operator, such as a revoked
// refresh token.
func (l *Logger) Critical(msg string, args ...interface{}) {
	l.entry.WithField("critical", true).Errorf("[CRITICAL] "+msg, args...)
}

func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.entry.Fatalf(msg, args...)
}

// Printf lets the logger back gorm's logger.Writer.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Writer returns a pipe that logs each line at info level.
func (l *Logger) Writer() *io.PipeWriter {
	return l.entry.WriterLevel(logrus.InfoLevel)
}

type redactHook struct {
	mu      sync.RWMutex
	secrets []string
}

func (h *redactHook) add(values ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, v := range values {
		// Very short values would mangle ordinary text.
		if len(v) < 4 {
			continue
		}
		dup := false
		for _, s := range h.secrets {
			if s == v {
				dup = true
				break
			}
		}
		if !dup {
			h.secrets = append(h.secrets, v)
		}
	}
}

func (h *redactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *redactHook) Fire(e *logrus.Entry) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.secrets) == 0 {
		return nil
	}
	e.Message = h.scrub(e.Message)
	for k, v := range e.Data {
		switch val := v.(type) {
		case string:
			e.Data[k] = h.scrub(val)
		case error:
			e.Data[k] = h.scrub(val.Error())
		case fmt.Stringer:
			e.Data[k] = h.scrub(val.String())
		}
	}
	return nil
}

func (h *redactHook) scrub(s string) string {
	for _, secret := range h.secrets {
		s = strings.ReplaceAll(s, secret, "***")
	}
	return s
}

// dailyFile appends to <dir>/<name>_YYYY-MM-DD.log and switches files at midnight.
type dailyFile struct {
	mu   sync.Mutex
	dir  string
	name string
	day  string
	f    *os.File
	now  func() time.Time
}

func newDailyFile(dir, name string) (*dailyFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	d := &dailyFile{dir: dir, name: name, now: time.Now}
	if err := d.rotate(d.now().Format("2006-01-02")); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *dailyFile) rotate(day string) error {
	path := filepath.Join(d.dir, fmt.Sprintf("%s_%s.log", d.name, day))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if d.f != nil {
		d.f.Close()
	}
	d.f = f
	d.day = day
	return nil
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if day := d.now().Format("2006-01-02"); day != d.day {
		if err := d.rotate(day); err != nil {
			return 0, err
		}
	}
	return d.f.Write(p)
}
