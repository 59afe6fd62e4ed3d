package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init initializes the global logger from environment variables.
//
//	PV_LOG_LEVEL   debug, info, warn, error (default: info)
//	PV_LOG_FORMAT  console or json (default: console; json is what CloudWatch wants)
func Init() {
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("PV_LOG_LEVEL")))

	if strings.EqualFold(os.Getenv("PV_LOG_FORMAT"), "json") {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
