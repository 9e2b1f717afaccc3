package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/alexflint/go-arg"

	"orly.dev/noxy/app"
	"orly.dev/noxy/chk"
	"orly.dev/noxy/log"
)

var args app.RunArgs

func main() {
	arg.MustParse(&args)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := app.Run(ctx, args); chk.T(err) {
		log.F.Ln(err)
	}
}
