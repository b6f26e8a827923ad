package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

// palette wraps text in SGR codes when colour is on.
type palette bool

func (p palette) wrap(code, s string) string {
	if !p || s == "" {
		return s
	}
	return code + s + ansiReset
}

type levelStyle struct {
	min  slog.Level
	tag  string
	code string
}

// Checked top-down; the last entry catches everything below info.
var levelStyles = []levelStyle{
	{slog.LevelError, "[ERROR]", ansiRed},
	{slog.LevelWarn, "[WARN]", ansiYellow},
	{slog.LevelInfo, "[INFO]", ansiBlue},
	{slog.Level(-1 << 10), "[DEBUG]", ansiMagenta},
}

// keyStyle renders a well-known attribute. ok=false falls back to plain output.
type keyStyle struct {
	label  string
	render func(p palette, v slog.Value) (string, bool)
}

var keyStyles = map[string]keyStyle{
	"method": {render: func(p palette, v slog.Value) (string, bool) {
		m := strings.ToUpper(strings.TrimSpace(v.String()))
		return p.wrap(methodColor(m), m), true
	}},
	"path": {render: func(p palette, v slog.Value) (string, bool) {
		return p.wrap(ansiCyan, strings.TrimSpace(v.String())), true
	}},
	"status": {render: func(p palette, v slog.Value) (string, bool) {
		n, ok := intValue(v)
		if !ok {
			return "", false
		}
		return p.wrap(statusColor(int(n)), strconv.FormatInt(n, 10)), true
	}},
	"status_class": {label: "class", render: renderClass},
	"class":        {render: renderClass},
	"duration_ms": {label: "duration", render: func(p palette, v slog.Value) (string, bool) {
		ms, ok := intValue(v)
		if !ok {
			return "", false
		}
		code := ansiDim
		if ms >= 1000 {
			code = ansiRed
		} else if ms >= 250 {
			code = ansiYellow
		}
		return p.wrap(code, strconv.FormatInt(ms, 10)+"ms"), true
	}},
	"result": {render: func(p palette, v slog.Value) (string, bool) {
		r := strings.ToLower(strings.TrimSpace(v.String()))
		switch r {
		case "":
			return `""`, true
		case "server_error":
			return p.wrap(ansiRed, r), true
		case "client_error":
			return p.wrap(ansiYellow, r), true
		}
		return p.wrap(ansiGreen, r), true
	}},
	"online": {render: renderCount},
	"count":  {render: renderCount},
}

func renderClass(p palette, v slog.Value) (string, bool) {
	class := strings.TrimSpace(v.String())
	if class == "" || class[0] < '1' || class[0] > '5' {
		return quoteIfNeeded(class), true
	}
	return p.wrap(statusColor(int(class[0]-'0')*100), class), true
}

func renderCount(p palette, v slog.Value) (string, bool) {
	n, ok := intValue(v)
	if !ok {
		return "", false
	}
	return p.wrap(ansiGreen, strconv.FormatInt(n, 10)), true
}

// prettyHandler writes one key=value line per record for local development.
// Request and presence keys are coloured.
type prettyHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Leveler
	source bool
	pal    palette

	prefix string // dotted group path applied to record attrs
	pre    []byte // handler attrs, already rendered
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{out: w, mu: &sync.Mutex{}, level: slog.LevelInfo, pal: palette(color)}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	buf := make([]byte, 0, 256)
	buf = append(buf, "ts="...)
	buf = append(buf, h.pal.wrap(ansiDim, ts.Format("15:04:05.000"))...)
	buf = append(buf, " lvl="...)
	buf = append(buf, h.levelTag(r.Level)...)
	buf = append(buf, " msg="...)
	buf = append(buf, h.pal.wrap(ansiBright, r.Message)...)

	if h.source && r.PC != 0 {
		f, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if f.File != "" {
			buf = append(buf, " src="...)
			buf = append(buf, h.pal.wrap(ansiDim, filepath.Base(f.File)+":"+strconv.Itoa(f.Line))...)
		}
	}

	buf = append(buf, h.pre...)
	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.prefix, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(buf)
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	cp.pre = append([]byte(nil), h.pre...)
	for _, a := range attrs {
		cp.pre = cp.appendAttr(cp.pre, h.prefix, a)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = joinKey(h.prefix, name)
	return &cp
}

func (h *prettyHandler) levelTag(level slog.Level) string {
	for _, s := range levelStyles {
		if level >= s.min {
			return h.pal.wrap(s.code, s.tag)
		}
	}
	last := levelStyles[len(levelStyles)-1]
	return h.pal.wrap(last.code, last.tag)
}

func (h *prettyHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if key == "" && a.Value.Kind() != slog.KindGroup {
		return buf
	}
	full := joinKey(prefix, key)

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, full, ga)
		}
		return buf
	}

	label, val := full, ""
	rendered := false
	if ks, ok := keyStyles[full]; ok {
		if ks.label != "" {
			label = ks.label
		}
		val, rendered = ks.render(h.pal, a.Value)
	}
	if !rendered {
		val = quoteIfNeeded(plainValue(a.Value))
	}

	buf = append(buf, ' ')
	buf = append(buf, label...)
	buf = append(buf, '=')
	return append(buf, val...)
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	}
	return v.String()
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func methodColor(method string) string {
	switch method {
	case "GET":
		return ansiGreen
	case "POST":
		return ansiBlue
	case "DELETE":
		return ansiRed
	}
	return ansiMagenta
}

func statusColor(code int) string {
	switch {
	case code >= 500:
		return ansiRed
	case code >= 400:
		return ansiYellow
	case code >= 300:
		return ansiCyan
	}
	return ansiGreen
}

func intValue(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	}
	return 0, false
}

var sgrSequence = regexp.MustCompile("\x1b\\[[0-9;]*m")

// stripANSI removes SGR escape sequences.
func stripANSI(s string) string {
	return sgrSequence.ReplaceAllString(s, "")
}
