package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"wagerbot/cmd"
	"wagerbot/database"
)

const usage = `Usage: wagerbot [command]

Commands:
  run                    start the chat gateway and the background workers (default)
  sweep                  resolve due wagers and settle completed ones once, then exit
  migrate up             apply pending migrations
  migrate down [steps]   roll back migrations, one step unless given
  migrate status         print the current migration version
`

func main() {
	command := "run"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case "run":
		err = cmd.Run(ctx, cmd.Options{})
	case "sweep":
		err = cmd.Run(ctx, cmd.Options{SweepOnce: true})
	case "migrate":
		err = migrate(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		os.Exit(2)
	}

	if err != nil {
		stop()
		log.Fatalf("wagerbot %s: %v", command, err)
	}
}

func migrate(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migration direction\n\n%s", usage)
	}

	switch args[0] {
	case "up":
		return database.MigrateUp()
	case "down":
		steps := "1"
		if len(args) > 1 {
			steps = args[1]
		}
		return database.MigrateDown(steps)
	case "status":
		return database.MigrateStatus()
	default:
		return fmt.Errorf("unknown migration command %q", args[0])
	}
}
