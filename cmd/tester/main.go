package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ghost-chat/e2e"

	"github.com/gookit/color"
)

// tester runs the alice/bob scenario against a live server (SERVER_ADDR).
func main() {
	cfg, err := e2e.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logf := func(format string, args ...any) { fmt.Printf(format+"\n", args...) }
	if err := e2e.RunTeamScenario(ctx, cfg, logf); err != nil {
		fmt.Println(color.Red.Render("FAIL: " + err.Error()))
		stop()
		os.Exit(1)
	}
	fmt.Println(color.Green.Render("PASS"))
}
