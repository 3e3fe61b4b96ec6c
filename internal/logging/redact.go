package logging

import (
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/strata/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Secret builds a field for a config.Secret that logs only the value length.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString builds a field carrying a redaction marker and the value
// length instead of the value.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder replaces string values of sensitive field names at the
// encoder, as a second line of defense behind the typed helpers.
type RedactingEncoder struct {
	zapcore.Encoder
	redactKeys map[string]bool
}

// NewRedactingEncoder wraps base with key-based redaction. A disabled
// config returns a pass-through wrapper.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) *RedactingEncoder {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}
	}
	keys := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		keys[strings.ToLower(f)] = true
	}
	return &RedactingEncoder{Encoder: base, redactKeys: keys}
}

func (e *RedactingEncoder) shouldRedact(key string) bool {
	return e.redactKeys[strings.ToLower(key)]
}

// EncodeEntry redacts per-call string fields before delegating. The AddX
// overrides alone only catch fields attached with With, because the base
// encoder serializes call-site fields against its own receiver.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if len(e.redactKeys) > 0 {
		out := make([]zapcore.Field, len(fields))
		for i, f := range fields {
			if f.Type == zapcore.StringType && e.shouldRedact(f.Key) {
				f.String = "[REDACTED]"
			}
			out[i] = f
		}
		fields = out
	}
	return e.Encoder.EncodeEntry(ent, fields)
}

func (e *RedactingEncoder) AddString(key, val string) {
	if e.shouldRedact(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	e.Encoder.AddString(key, val)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.shouldRedact(key) {
		e.Encoder.AddByteString(key, []byte("[REDACTED]"))
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.shouldRedact(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.shouldRedact(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:    e.Encoder.Clone(),
		redactKeys: e.redactKeys,
	}
}
