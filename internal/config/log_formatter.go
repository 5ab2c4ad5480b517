package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	colorRed         = 31
	colorYellow      = 33
	colorBlue        = 36
	colorGray        = 37
	colorGreen       = 32
	colorCyan        = 96
	colorLightYellow = 93
	colorLightGreen  = 92
)

// WdFormatter renders logfmt-ish colorized lines with stable field order.
type WdFormatter struct{}

func (f *WdFormatter) Format(entry *log.Entry) ([]byte, error) {
	levelColor := colorBlue
	switch entry.Level {
	case log.TraceLevel, log.DebugLevel:
		levelColor = colorGray
	case log.WarnLevel:
		levelColor = colorYellow
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		levelColor = colorRed
	}

	var b strings.Builder
	writePair := func(key, value string, valueColor int) {
		fmt.Fprintf(&b, "\x1b[%dm%s\x1b[0m=\x1b[%dm%s\x1b[0m ", colorCyan, key, valueColor, value)
	}

	writePair("level", strings.ToUpper(entry.Level.String())[:4], levelColor)
	writePair("ts", entry.Time.Format("2006-01-02 15:04:05.000"), colorLightYellow)

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		raw, err := json.Marshal(entry.Data[k])
		if err != nil || len(raw) == 0 {
			continue
		}
		s := string(raw)
		valueColor := colorCyan
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			valueColor = colorGreen
		} else if strings.HasPrefix(s, `"`) {
			valueColor = colorLightYellow
		}
		writePair(k, s, valueColor)
	}

	writePair("msg", strconv.Quote(entry.Message), colorLightGreen)

	line := strings.TrimRight(b.String(), " ")
	line = strings.ReplaceAll(line, "\r", `\r`)
	line = strings.ReplaceAll(line, "\n", `\n`)
	return []byte(line + "\n"), nil
}
