package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Jeanedlune/idbkv/cmd/idbkv/commands"
)

// Version is set via ldflags during build
var Version = "dev"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Cancel on interrupt so serve can shut down gracefully
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, Version); err != nil {
		log.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}
