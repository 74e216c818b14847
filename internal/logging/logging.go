package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the zerolog logger with the specified debug mode and output format.
func InitLogger(debug, human bool) {
	initLogger(os.Stdout, debug, human)
}

func initLogger(out io.Writer, debug, human bool) {
	zerolog.TimeFieldFormat = time.RFC3339Nano            // always initialize base logger with timestamp.
	base := zerolog.New(out).With().Timestamp().Logger() // initialize base logger.
	if human {
		log.Logger = base.Output(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339Nano,
		}) // select output format.
	} else {
		log.Logger = base // use JSON logger.
	}
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel) // set debug level.
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel) // set info level.
	}
}

// Setup initializes the global logger from configured level and format names.
// Unknown levels fall back to info.
func Setup(level, format string) {
	InitLogger(false, strings.EqualFold(format, "human"))

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Component returns a child of the global logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// LogRequest logs a received web request with structured fields.
func LogRequest(clientIP, method, path string, activeConns int) {
	log.Info().
		Str("event", "request_received").
		Str("client_ip", clientIP).
		Str("method", method).
		Str("path", path).
		Int("active_connections", activeConns).
		Msg("received request")
}

// LogResponse logs a sent response with structured fields.
func LogResponse(clientIP, path string, status, size int, elapsed time.Duration) {
	log.Info().
		Str("event", "response_sent").
		Str("client_ip", clientIP).
		Str("path", path).
		Int("status", status).
		Int("size", size).
		Dur("duration", elapsed).
		Msg("sent response")
}
