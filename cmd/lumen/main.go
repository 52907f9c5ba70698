// Command lumen is the reference CLI/REPL for the embeddable Lua 5.1
// interpreter in lumen/pkg/vm: run a script file, run a chunk given with
// -e/--execute, or drop into an interactive readline session.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"lumen/pkg/errors"
	"lumen/pkg/state"
)

func main() {
	app := &cli.App{
		Name:      "lumen",
		Usage:     "an embeddable Lua 5.1-family interpreter",
		ArgsUsage: "[script]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "execute", Aliases: []string{"e"}, Usage: "execute the given chunk of Lua and exit"},
			&cli.BoolFlag{Name: "interactive", Aliases: []string{"i"}, Usage: "enter interactive mode after running script, if any"},
			&cli.BoolFlag{Name: "debug", Usage: "enable structured debug logging"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	s := newState(c.Bool("debug"))

	if expr := c.String("execute"); expr != "" {
		if err := s.DoString(expr, "<eval>"); err != nil {
			reportError(s, err)
			os.Exit(1)
		}
		if c.Bool("interactive") {
			runRepl(s)
		}
		return nil
	}

	if c.NArg() == 0 {
		if !c.Bool("interactive") {
			return cli.ShowAppHelp(c)
		}
		runRepl(s)
		return nil
	}

	if err := s.DoFile(c.Args().First()); err != nil {
		reportError(s, err)
		os.Exit(1)
	}
	if c.Bool("interactive") {
		runRepl(s)
	}
	return nil
}

func newState(debug bool) *state.State {
	if debug {
		return state.NewDebug()
	}
	return state.New()
}

func reportError(s *state.State, err error) {
	if le, ok := err.(errors.LumenError); ok {
		fmt.Fprintln(os.Stderr, "lumen:", le.Message())
		return
	}
	fmt.Fprintln(os.Stderr, "lumen:", err)
}

func isExitLine(line string) bool {
	t := strings.TrimSpace(line)
	return t == "exit" || t == "quit"
}
