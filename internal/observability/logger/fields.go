package logger

import (
	"time"

	"go.uber.org/zap"
)

// Helpers de campos con nombres consistentes en todo el servicio.
// Evitan typos tipo "kid" vs "key_id" repartidos por el código.

func KID(kid string) zap.Field          { return zap.String("kid", kid) }
func KeyStatus(s string) zap.Field      { return zap.String("key_status", s) }
func Alg(alg string) zap.Field          { return zap.String("alg", alg) }
func TokenID(jti string) zap.Field      { return zap.String("jti", jti) }
func Subject(sub string) zap.Field      { return zap.String("sub", sub) }
func RequestID(rid string) zap.Field    { return zap.String("request_id", rid) }
func Method(m string) zap.Field         { return zap.String("method", m) }
func Path(p string) zap.Field           { return zap.String("path", p) }
func Addr(a string) zap.Field           { return zap.String("addr", a) }
func Status(code int) zap.Field         { return zap.Int("status", code) }
func Bytes(n int) zap.Field             { return zap.Int("bytes", n) }
func DurationMs(ms int64) zap.Field     { return zap.Int64("duration_ms", ms) }
func RetireAt(t time.Time) zap.Field    { return zap.Time("retire_at", t) }
func PurgeAt(t time.Time) zap.Field     { return zap.Time("purge_at", t) }
func Err(err error) zap.Field           { return zap.Error(err) }
func Count(name string, n int) zap.Field { return zap.Int(name, n) }
