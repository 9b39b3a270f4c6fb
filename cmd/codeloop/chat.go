package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/martinemde/codeloop/agentloop"
)

const toolPreviewLines = 12

var (
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	previewStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).PaddingLeft(2)
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	bannerStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("12")).Padding(0, 1)
)

// runCmd executes a single instruction.
var runCmd = &cobra.Command{
	Use:   "run [instruction]",
	Short: "Run a single instruction and print the final reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		session, client, err := newSession(cfg, logger)
		if err != nil {
			return err
		}
		defer client.Close()

		events := watchEvents(session, cmd.ErrOrStderr())
		reply, err := session.Run(ctx, strings.Join(args, " "))
		session.Close()
		events.Wait()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	},
}

// runInteractive reads instructions line by line until exit, quit or EOF.
func runInteractive(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, client, err := newSession(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	out := cmd.OutOrStdout()
	events := watchEvents(session, out)
	defer func() {
		session.Close()
		events.Wait()
	}()

	fmt.Fprintln(out, bannerStyle.Render(fmt.Sprintf("codeloop %s  model: %s\nType exit to leave, /reset to clear history, /stats for context size.", version, cfg.LLM.Model)))
	return repl(ctx, session, cmd.InOrStdin(), out)
}

func repl(ctx context.Context, session *agentloop.Session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, promptStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())

		switch input {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/reset":
			session.Reset()
			fmt.Fprintln(out, toolStyle.Render("History cleared."))
			continue
		case "/stats":
			fmt.Fprintln(out, formatStats(session.Stats()))
			continue
		}

		reply, err := session.Run(ctx, input)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(out, warnStyle.Render("Error: "+err.Error()))
			continue
		}
		fmt.Fprintln(out, assistantStyle.Render(reply))
	}
}

func formatStats(s agentloop.ContextStats) string {
	return fmt.Sprintf("messages=%d tool_outputs=%d/%d chars=%d/%d tokens~%d",
		s.Messages, s.ToolOutputs, s.Budget.MaxToolOutputMessages,
		s.Chars, s.Budget.MaxContextChars, s.EstimatedTokens)
}

// watchEvents prints tool activity and warnings from the session until its
// event channel closes.
func watchEvents(session *agentloop.Session, w io.Writer) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range session.Events() {
			if line := describeEvent(ev); line != "" {
				fmt.Fprintln(w, line)
			}
		}
	}()
	return &wg
}

func describeEvent(ev agentloop.SessionEvent) string {
	switch ev.Kind {
	case agentloop.EventToolCallStart:
		return toolStyle.Render(fmt.Sprintf("-> %v", ev.Data["tool_name"]))
	case agentloop.EventToolCallEnd:
		output, _ := ev.Data["output"].(string)
		return previewStyle.Render(agentloop.TruncateLines(output, toolPreviewLines))
	case agentloop.EventLoopDetection, agentloop.EventWarning:
		return warnStyle.Render(fmt.Sprintf("! %v", ev.Data["message"]))
	case agentloop.EventTurnLimit:
		return warnStyle.Render(fmt.Sprintf("! stopped after %v tool rounds", ev.Data["rounds"]))
	}
	return ""
}
