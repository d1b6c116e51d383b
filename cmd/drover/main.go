// drover is a terminal agent: it takes a task, iterates against a
// completion provider with a local tool set, and asks before mutating
// anything.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/droverai/drover/internal/agent"
	"github.com/droverai/drover/internal/config"
	"github.com/droverai/drover/internal/convo"
	"github.com/droverai/drover/internal/llm"
	"github.com/droverai/drover/internal/logger"
	"github.com/droverai/drover/internal/permissions"
	"github.com/droverai/drover/internal/session"
	"github.com/droverai/drover/internal/tools"
)

func main() {
	query := flag.String("q", "", "run a single query and exit")
	sessionID := flag.String("session", "", "session id to resume")
	model := flag.String("model", "", "override the configured model")
	auto := flag.Bool("auto", false, "approve state-mutating tools without asking")
	noStream := flag.Bool("no-stream", false, "disable incremental output")
	flag.Parse()

	if err := run(*query, *sessionID, *model, *auto, !*noStream); err != nil {
		printError(err)
		os.Exit(1)
	}
}

func run(query, sessionID, model string, auto, stream bool) error {
	defer logger.CloseLogFile()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevelFromString(cfg.LogLevel)
	if model != "" {
		cfg.Model = model
	}

	client := buildClient(cfg)
	defer client.Close()

	runtime, err := tools.NewLocalRuntime(cfg.WorkDir)
	if err != nil {
		return err
	}

	stdin := bufio.NewReader(os.Stdin)

	mode := permissions.ModeAsk
	if auto {
		mode = permissions.ModeAuto
	}
	policy := permissions.NewPolicy(mode, permissions.ConfirmerFunc(func(message string) (bool, error) {
		return askYesNo(stdin, message)
	}))

	store := convo.NewStore(convo.Config{
		MaxMessages:       cfg.History.MaxMessages,
		SummarizeBytes:    cfg.History.SummarizeBytes,
		SummarizeMessages: cfg.History.SummarizeMessages,
		PreserveExchanges: cfg.History.PreserveExchanges,
	})

	loop := agent.NewLoop(agent.Params{
		Client:  client,
		Runtime: runtime,
		Store:   store,
		Policy:  policy,
		WorkDir: cfg.WorkDir,
		Loop:    cfg.Loop,
	})

	snapshots, err := openSnapshots(cfg)
	if err != nil {
		logger.Warn("session persistence disabled: %v", err)
	} else {
		defer snapshots.Close()
	}

	sess := session.New(sessionID, loop, store, snapshots)
	if err := sess.Restore(); err != nil {
		logger.Warn("could not restore session %s: %v", sess.ID(), err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A restored session may still be waiting on a confirmation from
	// before the restart; settle that before taking new input.
	if sess.Pending() {
		granted, err := policy.Ask("A previous operation is still waiting for permission.")
		if err != nil {
			return err
		}
		if err := drive(ctx, sess, policy, stream, func() (*agent.Result, error) {
			return sess.ConfirmStream(ctx, granted, deltaPrinter(stream))
		}); err != nil {
			return err
		}
	}

	if query != "" {
		return drive(ctx, sess, policy, stream, func() (*agent.Result, error) {
			return sess.AskStream(ctx, query, deltaPrinter(stream))
		})
	}

	return repl(ctx, sess, policy, stdin, stream)
}

func repl(ctx context.Context, sess *session.Session, policy *permissions.Policy, stdin *bufio.Reader, stream bool) error {
	fmt.Println(dimStyle.Render(fmt.Sprintf("drover session %s (type /quit to exit)", sess.ID())))

	for {
		fmt.Print(promptStyle.Render("> "))
		line, err := stdin.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		err = drive(ctx, sess, policy, stream, func() (*agent.Result, error) {
			return sess.AskStream(ctx, line, deltaPrinter(stream))
		})
		if err != nil {
			printError(err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// drive runs one loop entry and follows it through any chain of
// confirmation suspensions until a terminal state. Confirmation goes
// through the policy so its channel stays the single ask path.
func drive(ctx context.Context, sess *session.Session, policy *permissions.Policy, stream bool, entry func() (*agent.Result, error)) error {
	result, err := entry()
	for err == nil && result.State == agent.StateConfirming {
		fmt.Println()
		granted, askErr := policy.Ask(result.Answer)
		if askErr != nil {
			return askErr
		}
		result, err = sess.ConfirmStream(ctx, granted, deltaPrinter(stream))
	}
	if err != nil {
		return err
	}

	// Streamed deltas cover intermediate narration only; the final
	// answer often comes from the done tool and was never streamed.
	fmt.Println()
	fmt.Println(answerStyle.Render(result.Answer))
	return nil
}

// deltaPrinter returns the streaming sink, or nil for blocking mode.
func deltaPrinter(stream bool) func(string) {
	if !stream {
		return nil
	}
	return func(delta string) {
		fmt.Print(answerStyle.Render(delta))
	}
}

func buildClient(cfg *config.Config) llm.Client {
	var base llm.Client
	switch cfg.Provider {
	case config.ProviderOpenAI:
		base = llm.NewOpenAIClient(cfg)
	default:
		base = llm.NewAnthropicClient(cfg)
	}

	var client llm.Client = base
	if cfg.RateLimit.EnableRateLimiting {
		client = llm.NewRateLimitedClient(client, cfg.RateLimit)
	}
	return llm.NewResilientClient(client, cfg.RateLimit)
}

func openSnapshots(cfg *config.Config) (*session.Store, error) {
	if cfg.SessionDB == "" {
		return nil, fmt.Errorf("session database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SessionDB), 0o755); err != nil {
		return nil, err
	}
	return session.OpenStore(cfg.SessionDB)
}
