package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mudu-db/mudu/kernel/server"
	"github.com/spf13/cobra"
)

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive client: SQL statements end with ';', 'call <procedure> args...' runs a procedure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			k, err := openKernel(ctx)
			if err != nil {
				return err
			}
			defer k.Close()
			return shellLoop(ctx, cmd.OutOrStdout(), k)
		},
	}
}

func shellLoop(ctx context.Context, w io.Writer, k *server.Kernel) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "mudu> ",
		HistoryFile:       "/tmp/mudu_history",
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	var buf strings.Builder
	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			continue
		}
		line = strings.TrimSpace(line)
		if buf.Len() == 0 {
			switch {
			case line == "":
				continue
			case line == "exit" || line == "quit" || line == `\q`:
				return nil
			case strings.HasPrefix(line, "call "):
				fields := strings.Fields(line)
				if err := runCall(ctx, w, k, fields[1], fields[2:]); err != nil {
					fmt.Fprintf(w, "call %s failed: %v\n", fields[1], err)
				}
				continue
			}
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
		if !strings.HasSuffix(line, ";") {
			l.SetPrompt("   -> ")
			continue
		}
		script := buf.String()
		buf.Reset()
		l.SetPrompt("mudu> ")

		results, err := k.Exec(ctx, script)
		if perr := printResults(w, results); perr != nil {
			fmt.Fprintf(w, "error: %v\n", perr)
		}
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}
	}
}
