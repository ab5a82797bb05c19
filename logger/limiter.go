package logger

// Limited forwards at most Max entries and counts the rest. It is meant to be
// created per evaluation step and flushed at the end of it.
type Limited struct {
	Log        Logger
	Max        int
	written    int
	suppressed int
}

// NewLimited wraps l; max <= 0 means unlimited.
func NewLimited(l Logger, max int) *Limited {
	return &Limited{Log: l, Max: max}
}

func (l *Limited) allow() bool {
	if l.Max > 0 && l.written >= l.Max {
		l.suppressed++
		return false
	}
	l.written++
	return true
}

func (l *Limited) Debug(msg string, fields ...Field) {
	if l.allow() {
		l.Log.Debug(msg, fields...)
	}
}

func (l *Limited) Info(msg string, fields ...Field) {
	if l.allow() {
		l.Log.Info(msg, fields...)
	}
}

func (l *Limited) Warn(msg string, fields ...Field) {
	if l.allow() {
		l.Log.Warn(msg, fields...)
	}
}

func (l *Limited) Error(msg string, fields ...Field) {
	if l.allow() {
		l.Log.Error(msg, fields...)
	}
}

// Suppressed is the number of entries dropped since the last Flush.
func (l *Limited) Suppressed() int { return l.suppressed }

// Flush emits a single summary entry for anything suppressed and resets the counters.
func (l *Limited) Flush() {
	if l.suppressed > 0 {
		l.Log.Info("additional logs suppressed", Int("count", l.suppressed))
	}
	l.written, l.suppressed = 0, 0
}
