package infra

import (
	"os"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
)

// EnsureWorkDir expands the configured dot path and creates it if missing.
func EnsureWorkDir(dotPath string) string {
	workDir, err := homedir.Expand(dotPath)
	if err != nil {
		log.Fatalln(err)
	}
	if err = os.MkdirAll(workDir, os.ModePerm); err != nil {
		log.Fatalln(err)
	}
	return workDir
}
