// Command hexflow runs the workflow router and its maintenance tasks.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("hexflow failed")
		os.Exit(1)
	}
}
