package main

import (
	"fmt"
	"io"

	"github.com/chzyer/readline"

	"lumen/pkg/state"
)

// runRepl drives an interactive session: each complete line is compiled
// and run as its own chunk with PCall (no line-continuation heuristics),
// and every value the chunk returns, nil included, is printed one per
// line. A bare expression is not a chunk and reports a compile error.
func runRepl(s *state.State) {
	rl, err := readline.New("> ")
	if err != nil {
		fmt.Println("lumen: could not start readline:", err)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			return
		}
		if isExitLine(line) {
			return
		}
		if line == "" {
			continue
		}
		evalLine(s, line)
	}
}

func evalLine(s *state.State, line string) {
	top := s.Top()
	if err := s.Load(line, "<repl>"); err != nil {
		reportError(s, err)
		return
	}
	if err := s.PCall(0, -1); err != nil {
		reportError(s, err)
		s.SetTop(top)
		return
	}
	for i := top + 1; i <= s.Top(); i++ {
		fmt.Println(s.Get(i).ToString())
	}
	s.SetTop(top)
}
