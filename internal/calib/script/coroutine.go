package script

import (
	"github.com/lumenfield/mirrorcal/internal/calib/command"
)

// YieldFunc suspends the script body with a command and resumes it with
// the executor's result for that command.
type YieldFunc func(command.Command) command.Result

// Script gives a plain function generator semantics: the body runs in its
// own goroutine and trades commands for results over paired channels. The
// executor pulls commands with Next and must eventually Close the script
// so an abandoned body unwinds.
//
// Next and Close must be called from a single goroutine (the executor's
// dispatch loop); the body never runs concurrently with its caller.
type Script struct {
	body    func(yield YieldFunc)
	cmds    chan command.Command
	results chan command.Result
	done    chan struct{}
	quit    chan struct{}
	started bool
	closed  bool
}

// closeSignal unwinds the body goroutine when the script is closed
// mid-run. Recovered inside run; never escapes the package.
type closeSignal struct{}

// New wraps a script body.
func New(body func(yield YieldFunc)) *Script {
	return &Script{
		body:    body,
		cmds:    make(chan command.Command),
		results: make(chan command.Result),
		done:    make(chan struct{}),
		quit:    make(chan struct{}),
	}
}

// Next resumes the script with the previous command's result and returns
// the next command. prev is ignored on the first call (there is nothing to
// resume yet). ok is false once the body has returned.
func (s *Script) Next(prev command.Result) (cmd command.Command, ok bool) {
	if s.closed {
		return nil, false
	}
	if !s.started {
		s.started = true
		go s.run()
	} else {
		select {
		case s.results <- prev:
		case <-s.done:
			return nil, false
		}
	}
	select {
	case cmd = <-s.cmds:
		return cmd, true
	case <-s.done:
		return nil, false
	}
}

// Close unwinds the body if it is still suspended. Safe to call after the
// body has completed; idempotent.
func (s *Script) Close() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.quit)
	if s.started {
		<-s.done
	}
}

func (s *Script) run() {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			if _, isClose := r.(closeSignal); !isClose {
				panic(r)
			}
		}
	}()
	s.body(s.yield)
}

func (s *Script) yield(cmd command.Command) command.Result {
	select {
	case s.cmds <- cmd:
	case <-s.quit:
		panic(closeSignal{})
	}
	select {
	case res := <-s.results:
		return res
	case <-s.quit:
		panic(closeSignal{})
	}
}
