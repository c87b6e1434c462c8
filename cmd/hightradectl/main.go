package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"hightrade/internal/command"
)

// hightradectl drops a command file into the daemon's queue and waits for the
// response. Exit codes: 0 accepted, 2 invalid state, 3 unknown verb.
func main() {
	dataDir := flag.String("data", "hightrade_data", "daemon data directory")
	timeout := flag.Duration("timeout", 30*time.Second, "how long to wait for a response")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(3)
	}
	verb := args[0]
	if !command.KnownVerb(verb) {
		fmt.Fprintf(os.Stderr, "unknown verb %q\n", verb)
		os.Exit(command.CodeUnknownVerb)
	}

	cmd := command.Command{
		ID:         uuid.NewString(),
		Verb:       verb,
		Args:       args[1:],
		ReceivedAt: time.Now().UTC(),
	}
	root := filepath.Join(*dataDir, "commands")
	if err := command.Drop(root, cmd); err != nil {
		fmt.Fprintf(os.Stderr, "dropping command failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	res, err := command.WaitResponse(ctx, root, cmd.ID, 250*time.Millisecond)
	if err != nil {
		fmt.Fprintf(os.Stderr, "no response from daemon: %v\n", err)
		os.Exit(1)
	}
	if res.Body != "" {
		fmt.Println(res.Body)
	}
	os.Exit(res.Code)
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: hightradectl [flags] <verb> [args...]

verbs:
  status            print loop status as JSON
  portfolio         print open positions and performance as JSON
  defcon            print the current DEFCON state as JSON
  hold              pause entry proposals (monitoring and exits continue)
  resume            resume from hold or e-stop
  yes | no          approve or reject the pending trade decision
  refresh           run the next cycle immediately
  mode <m>          set broker mode: disabled | semi_auto | full_auto
  interval <min>    set the cycle interval in minutes
  estop             emergency stop: latch the loop immediately
  shutdown          drain the current cycle and exit

flags:
`)
	flag.PrintDefaults()
}
