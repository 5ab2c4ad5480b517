package infra

import (
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

// GoRecoverable runs f, restarting it after a panic until maxPanics is
// exhausted. maxPanics < 0 restarts forever.
func GoRecoverable(maxPanics int, id string, f func()) {
	defer func() {
		if err := recover(); err != nil {
			log.Errorf(`job %q panics with message: %s, %s`, id, err, identifyPanic())
			if maxPanics == 0 {
				log.Fatalf(`panics limit exceeded for job %q, exiting`, id)
			}
			if maxPanics > 0 {
				maxPanics--
			}
			log.Debugf(`recovering job %q`, id)
			go GoRecoverable(maxPanics, id, f)
		}
	}()
	f()
}

func identifyPanic() string {
	var name, file string
	var line int
	var pc [16]uintptr

	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}
	return fmt.Sprintf("pc:%x", pc)
}
