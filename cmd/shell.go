// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/tcscope/pkg/tclink"
)

const shellKey = "$session"

var shellCmd = &cobra.Command{
	Use:   "shell [COMMAND [ARGS...]]",
	Short: "Interactive request shell",
	Long: `Open an interactive shell on the connection.

Every request command of send is available, plus:
  stats                        Link statistics
  watchdog start MS | stop     Feed the drive watchdog in the background

Given arguments, the shell runs that one command and exits.`,
	RunE: runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

// shellSession is the state shared by the shell commands.
type shellSession struct {
	ctx        context.Context
	client     *tclink.Client
	stopFeeder context.CancelFunc
}

func sessionFrom(c *ishell.Context) *shellSession {
	return c.Get(shellKey).(*shellSession)
}

func runShell(cmd *cobra.Command, args []string) error {
	client, connInfo, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	session := &shellSession{ctx: cmd.Context(), client: client}
	defer session.stopWatchdog()

	sh := newShell(session)
	if len(args) > 0 {
		return sh.Process(args...)
	}

	sh.Printf("tcscope shell on %s\n", connInfo)
	sh.Println("Type 'help' for commands, 'exit' to quit")
	sh.Run()
	return nil
}

func newShell(session *shellSession) *ishell.Shell {
	sh := ishell.New()
	sh.Set(shellKey, session)
	sh.SetPrompt("tcscope > ")

	for _, v := range verbs {
		sh.AddCmd(verbShellCmd(v.name, strings.TrimSpace(v.name+" "+v.args)+": "+v.help))
	}
	sh.AddCmd(verbShellCmd("raw", rawUsage+": any opcode with typed parameters"))
	sh.AddCmd(&ishell.Cmd{
		Name: "stats",
		Help: "link statistics",
		Func: func(c *ishell.Context) {
			stats := sessionFrom(c).client.Statistics()
			c.Print(stats.String())
		},
	})
	sh.AddCmd(&ishell.Cmd{
		Name: "watchdog",
		Help: "watchdog start MS | stop: feed the drive watchdog in the background",
		Func: func(c *ishell.Context) {
			if err := sessionFrom(c).watchdog(c.Args); err != nil {
				c.Err(err)
			}
		},
	})
	return sh
}

func verbShellCmd(name, help string) *ishell.Cmd {
	return &ishell.Cmd{
		Name: name,
		Help: help,
		Func: func(c *ishell.Context) {
			s := sessionFrom(c)
			var out bytes.Buffer
			err := runVerb(s.ctx, s.client, &out, append([]string{name}, c.Args...))
			c.Print(out.String())
			if err != nil {
				c.Err(err)
			}
		},
	}
}

func (s *shellSession) watchdog(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: watchdog start MS | stop")
	}
	switch args[0] {
	case "start":
		if len(args) != 2 {
			return errors.New("usage: watchdog start MS")
		}
		ms, err := parseInt32(args[1])
		if err != nil || ms <= 0 {
			return fmt.Errorf("invalid interval %q", args[1])
		}
		s.stopWatchdog()
		ctx, cancel := context.WithCancel(s.ctx)
		s.stopFeeder = cancel
		go s.client.Watchdog(ctx, time.Duration(ms)*time.Millisecond)
		return nil
	case "stop":
		s.stopWatchdog()
		return nil
	default:
		return fmt.Errorf("unknown watchdog action %q", args[0])
	}
}

func (s *shellSession) stopWatchdog() {
	if s.stopFeeder != nil {
		s.stopFeeder()
		s.stopFeeder = nil
	}
}
