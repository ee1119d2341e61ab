// Package logging configures the Conductor's structured logger.
//
// Ported from the teacher's internal/logger package: a single global
// zerolog.Logger initialized once at startup, with per-component child loggers
// obtained via .With().Str("component", ...) instead of ad-hoc log.Printf calls
// scattered through the codebase.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the global logger instance, valid after Initialize.
var Log zerolog.Logger

// Initialize configures the global logger. pretty selects a human-readable
// console writer (development); otherwise JSON lines are emitted (production).
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().Str("service", "iotronic-conductor").Logger()
	Log.Info().Str("level", logLevel.String()).Bool("pretty", pretty).Msg("logger initialized")
}

func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

func Dispatch() *zerolog.Logger   { return component("dispatch") }
func Sessions() *zerolog.Logger   { return component("sessions") }
func Agents() *zerolog.Logger     { return component("agents") }
func Workflow() *zerolog.Logger   { return component("workflow") }
func Onboarding() *zerolog.Logger { return component("onboarding") }
func Proxy() *zerolog.Logger      { return component("proxy") }
func Bus() *zerolog.Logger        { return component("bus") }
func Repository() *zerolog.Logger { return component("repository") }
func Ports() *zerolog.Logger      { return component("ports") }
