// Package main implements the AskGeorge command line: an interactive chat
// loop and a one-shot ask command.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/askgeorge/askgeorge/engine/app"
	"github.com/askgeorge/askgeorge/engine/domain"
	"github.com/askgeorge/askgeorge/engine/rag"
	"github.com/askgeorge/askgeorge/engine/session"
)

// maxShownSources is how many sources are printed under an answer.
const maxShownSources = 5

type answerer interface {
	Ask(ctx context.Context, req rag.Request) (*rag.Answer, error)
}

// buildFunc assembles the pipeline for a configuration.
type buildFunc func(ctx context.Context, cfg app.Config, logger *slog.Logger) (answerer, func(), error)

func buildPipeline(ctx context.Context, cfg app.Config, logger *slog.Logger) (answerer, func(), error) {
	a, err := app.Build(ctx, cfg, app.Deps{}, nil, logger)
	if err != nil {
		return nil, nil, err
	}
	return a.Service, func() { a.Close(context.Background()) }, nil
}

type options struct {
	cfg     app.Config
	topK    int
	verbose bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(buildPipeline).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(build buildFunc) *cobra.Command {
	opts := &options{cfg: app.FromEnv()}

	root := &cobra.Command{
		Use:          "askgeorge",
		Short:        "Ask questions about George Brown College",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.cfg.Mode, "mode", opts.cfg.Mode, "language model backend (ollama, openai, claude, huggingface, gemini)")
	flags.IntVar(&opts.topK, "top-k", 0, "passages to retrieve; 0 picks k from the question type")
	flags.BoolVar(&opts.cfg.Rerank, "rerank", opts.cfg.Rerank, "rerank passages with the selected backend")
	flags.IntVar(&opts.cfg.MaxTokens, "max-tokens", opts.cfg.MaxTokens, "token budget for retrieved context")
	flags.StringVar(&opts.cfg.ClassifierPreset, "preset", opts.cfg.ClassifierPreset, "question classifier keywords (canonical, retriever, answer)")
	flags.BoolVar(&opts.cfg.AllowList, "allow-list", opts.cfg.AllowList, "keep only passages from trusted sources")
	flags.IntVar(&opts.cfg.HistoryTurns, "history", opts.cfg.HistoryTurns, "previous turns included in the prompt; 0 disables")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	chat := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPipeline(cmd, opts, build, func(a answerer) error {
				return runChat(cmd.Context(), a, opts, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
	ask := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd, opts, build, func(a answerer) error {
				return runAsk(cmd.Context(), a, opts, strings.Join(args, " "), cmd.OutOrStdout())
			})
		},
	}
	root.AddCommand(chat, ask)
	root.RunE = chat.RunE
	return root
}

func withPipeline(cmd *cobra.Command, opts *options, build buildFunc, f func(answerer) error) error {
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	opts.cfg.Mode = strings.ToLower(opts.cfg.Mode)
	a, closeFn, err := build(cmd.Context(), opts.cfg, logger)
	if err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	defer closeFn()
	return f(a)
}

func runAsk(ctx context.Context, a answerer, opts *options, question string, out io.Writer) error {
	if err := domain.ValidateQuestion(question); err != nil {
		fmt.Fprintln(out, domain.EmptyQuestionMessage)
		return err
	}
	ans, err := a.Ask(ctx, rag.Request{Question: question, TopK: opts.topK, Rerank: opts.cfg.Rerank})
	if err != nil {
		return err
	}
	printAnswer(out, ans)
	return nil
}

func runChat(ctx context.Context, a answerer, opts *options, in io.Reader, out io.Writer) error {
	history := session.NewHistory(opts.cfg.HistoryTurns)
	scanner := bufio.NewScanner(in)
	fmt.Fprintf(out, "AskGeorge (%s). Type 'exit' or 'quit' to leave.\n", opts.cfg.Mode)
	for {
		fmt.Fprint(out, "\n❓ ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "exit", "quit":
			fmt.Fprintln(out, "👋 Goodbye!")
			return nil
		case "":
			fmt.Fprintln(out, domain.EmptyQuestionMessage)
			continue
		}

		req := rag.Request{Question: line, TopK: opts.topK, Rerank: opts.cfg.Rerank}
		if opts.cfg.HistoryTurns > 0 {
			req.History = history.Turns()
		}
		ans, err := a.Ask(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(out, "⚠️ %v\n", err)
			continue
		}
		printAnswer(out, ans)
		history.Add(domain.Turn{Question: ans.Question, Answer: ans.Text})
	}
}

func printAnswer(out io.Writer, ans *rag.Answer) {
	fmt.Fprintf(out, "\n💡 %s\n", ans.Text)
	fmt.Fprintf(out, "\n⏱  retrieval %.2fs | generation %.2fs | total %.2fs  [%s, k=%d, %s]\n",
		ans.Timing.Retrieval, ans.Timing.Generation, ans.Timing.Total, ans.Label, ans.K, ans.Mode)
	if len(ans.Sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for i, s := range ans.Sources {
		if i == maxShownSources {
			break
		}
		fmt.Fprintln(out, rag.FormatSource(domain.RetrievalResult{
			Chunk: domain.Chunk{ID: s.ChunkID, SourceFile: s.SourceFile, Category: s.Category, Text: s.Text},
		}))
	}
}
