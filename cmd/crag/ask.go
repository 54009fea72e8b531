package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/crag/middleware"
	"github.com/sweetpotato0/crag/rag/orchestrator"
	"github.com/sweetpotato0/crag/rag/state"
	"github.com/sweetpotato0/crag/server"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question on the terminal, asking for clarification when needed",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().String("session", "", "session id to continue")
	askCmd.Flags().Bool("simple", false, "never ask for clarification")
	askCmd.Flags().Bool("json", false, "print the response as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	sessionID, _ := cmd.Flags().GetString("session")
	simple, _ := cmd.Flags().GetBool("simple")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	chain := server.DefaultChain(cfg.Engine)
	out := cmd.OutOrStdout()
	if !jsonOutput {
		ctx = orchestrator.WithProgress(ctx, func(_ state.Step, message string) {
			fmt.Fprintf(cmd.ErrOrStderr(), "… %s\n", message)
		})
	}

	t := &terminal{chain: chain, engine: a.engine, in: bufio.NewReader(cmd.InOrStdin()), out: out}
	op := middleware.OpAsk
	if simple {
		op = middleware.OpAskSimple
	}
	resp, err := t.converse(ctx, op, args[0], sessionID)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printAnswer(out, resp)
	return nil
}

// terminal drives a run to completion, answering clarification questions
// from the input stream.
type terminal struct {
	chain  *middleware.Chain
	engine middleware.Engine
	in     *bufio.Reader
	out    io.Writer
}

func (t *terminal) converse(ctx context.Context, op middleware.Operation, input, sessionID string) (*orchestrator.Response, error) {
	for {
		c := middleware.NewContext(ctx, op, input, sessionID)
		if err := t.chain.Execute(c, middleware.Dispatch(t.engine)); err != nil {
			return nil, err
		}
		resp := c.Response
		if !resp.ClarificationNeeded {
			return resp, nil
		}

		fmt.Fprintf(t.out, "\n%s\n", resp.ClarificationQuestion)
		for i, opt := range resp.ClarificationOptions {
			fmt.Fprintf(t.out, "  %d. %s\n", i+1, opt)
		}
		fmt.Fprint(t.out, "> ")
		line, err := t.in.ReadString('\n')
		if err != nil && strings.TrimSpace(line) == "" {
			return nil, fmt.Errorf("reading clarification: %w", err)
		}
		op, input, sessionID = middleware.OpClarify, strings.TrimSpace(line), resp.SessionID
	}
}

func printAnswer(w io.Writer, resp *orchestrator.Response) {
	fmt.Fprintf(w, "\n%s\n", resp.Response)
	if resp.Disclaimer != "" {
		fmt.Fprintf(w, "\n※ %s\n", resp.Disclaimer)
	}
	if len(resp.Sources) > 0 {
		fmt.Fprintln(w, "\n출처:")
		for _, s := range resp.Sources {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
	fmt.Fprintf(w, "\n[%s · confidence %.2f · %dms · session %s]\n",
		resp.RetrievalSource, resp.Confidence, resp.ProcessingTimeMS, resp.SessionID)
}
