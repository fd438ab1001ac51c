package logging

import (
	"context"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ctxKey string

const ReqIDKey ctxKey = "reqID"

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "time"
	zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
		function := ""
		if fun := runtime.FuncForPC(pc); fun != nil {
			funName := fun.Name()
			if slash := strings.LastIndex(funName, "/"); slash > 0 {
				funName = funName[slash+1:]
			}
			function = " " + funName + "()"
		}
		return file + ":" + strconv.Itoa(line) + function
	}
}

// New builds the process logger. PRETTY=1 and DEBUG=1 in the environment
// override the pretty and level arguments.
func New(level string, pretty bool) zerolog.Logger {
	return NewWithWriter(os.Stdout, level, pretty)
}

func NewWithWriter(w io.Writer, level string, pretty bool) zerolog.Logger {
	if os.Getenv("PRETTY") == "1" {
		pretty = true
	}
	if os.Getenv("DEBUG") == "1" {
		level = "debug"
	}

	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	logger := zerolog.New(w).With().Timestamp().Logger().Hook(CallerHook{})

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

type CallerHook struct{}

func (h CallerHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Caller(3)
}

// WithRequest attaches a fresh request id and a child logger carrying it.
func WithRequest(ctx context.Context, logger zerolog.Logger) (context.Context, string) {
	reqID := uuid.NewString()
	ctx = context.WithValue(ctx, ReqIDKey, reqID)
	l := logger.With().Str("reqID", reqID).Logger()
	return l.WithContext(ctx), reqID
}

// RequestID returns the id stored by WithRequest, or "".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(ReqIDKey).(string); ok {
		return id
	}
	return ""
}
