package serialmux

import "strings"

// LineType is the kind of a line read from the gateway console.
type LineType string

const (
	LineTypeTick    LineType = "tick"
	LineTypeLog     LineType = "log"
	LineTypeUnknown LineType = "unknown"
)

// ClassifyLine separates tick payloads from the firmware's log output on the
// shared console. Tick payloads are JSON objects keyed by track id or by the
// radar name; ESP-IDF log lines start with a level letter and a timestamp.
func ClassifyLine(line string) LineType {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") && (strings.Contains(line, `"t_`) || strings.Contains(line, `"ld2461"`)) {
		return LineTypeTick
	}
	if len(line) > 2 && strings.ContainsRune("EWIDV", rune(line[0])) && line[1] == ' ' {
		return LineTypeLog
	}
	return LineTypeUnknown
}

// LineStats counts console lines by type since the mux was created.
type LineStats struct {
	Ticks   uint64 `json:"ticks"`
	Logs    uint64 `json:"logs"`
	Unknown uint64 `json:"unknown"`
	// Dropped counts deliveries skipped because a subscriber was full.
	Dropped uint64 `json:"dropped"`
}

func (s *LineStats) count(t LineType) {
	switch t {
	case LineTypeTick:
		s.Ticks++
	case LineTypeLog:
		s.Logs++
	default:
		s.Unknown++
	}
}
