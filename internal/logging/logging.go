package logging

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init opens the log file and installs the global zerolog logger. When
// console is true (interactive/dev use) a human-readable writer is
// multiplexed alongside the file, matching the teacher's dev-mode
// console logger.
func Init(level zerolog.Level, path string, console bool) {
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		panic(fmt.Errorf("failed to open log file: %w", err))
	}

	var writer zerolog.LevelWriter
	if console {
		writer = zerolog.MultiLevelWriter(logFile, zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		writer = zerolog.MultiLevelWriter(logFile)
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	log.Logger = logger

	if level == zerolog.DebugLevel {
		log.Debug().Msg("log level set to debug")
	}
}
