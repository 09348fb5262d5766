package incremental

import "log/slog"

// Canonical log field names shared by every component.
const (
	LogKeyDoc        = "doc"
	LogKeyShard      = "shard"
	LogKeyDir        = "dir"
	LogKeyAlgorithm  = "algorithm"
	LogKeyCount      = "count"
	LogKeyDurationMS = "duration_ms"
	LogKeyError      = "error"
)

func logDoc(p DocPath) slog.Attr         { return slog.String(LogKeyDoc, p.String()) }
func logShard(name string) slog.Attr     { return slog.String(LogKeyShard, name) }
func logDir(dir string) slog.Attr        { return slog.String(LogKeyDir, dir) }
func logAlgorithm(a Algorithm) slog.Attr { return slog.String(LogKeyAlgorithm, string(a)) }
func logCount(n int) slog.Attr           { return slog.Int(LogKeyCount, n) }
func logDurationMS(ms float64) slog.Attr { return slog.Float64(LogKeyDurationMS, ms) }
func logError(err error) slog.Attr {
	if err == nil {
		return slog.String(LogKeyError, "")
	}
	return slog.String(LogKeyError, err.Error())
}
