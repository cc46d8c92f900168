// Package main is the entry point of the clipify desktop agent.
package main

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/router-for-me/clipify/internal/buildinfo"
	"github.com/router-for-me/clipify/internal/cmd"
	"github.com/router-for-me/clipify/internal/logging"
	_ "github.com/router-for-me/clipify/internal/store"
	log "github.com/sirupsen/logrus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	loadDotEnv()
	code := cmd.Execute()
	logging.CloseLogOutputs()
	os.Exit(code)
}

// loadDotEnv reads .env from the working directory and then from the user
// config directory. Variables already set are never overridden.
func loadDotEnv() {
	var candidates []string
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, ".env"))
	}
	if base, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(base, "Clipify", ".env"))
	}
	for _, path := range candidates {
		if errLoad := godotenv.Load(path); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warnf("failed to load %s", path)
		}
	}
}
