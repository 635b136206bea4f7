package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"polaris/internal/approval"
	"polaris/internal/bot"
	"polaris/internal/config"
	"polaris/internal/embedding"
	"polaris/internal/hpc"
	"polaris/internal/llm"
	"polaris/internal/logging"
	"polaris/internal/mail"
	"polaris/internal/memory"
	"polaris/internal/reload"
	"polaris/internal/router"
	"polaris/internal/skills"
	"polaris/internal/tools"
	"polaris/internal/trace"
	"polaris/internal/vault"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant with its background loops",
	Long: `Starts the agent router and its background loops (urgent-mail
poller, hot reloader) and reads user messages from stdin. Each line is
one turn; approval prompts print inline and are answered by typing
"approve:<id>" or "deny:<id>".`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := configFrom(cmd.Context())
	log := logging.Get(logging.CategoryBoot)

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if app.poller != nil {
		g.Go(func() error {
			app.poller.Run(ctx)
			return nil
		})
	}
	if app.watcher != nil {
		g.Go(func() error {
			app.watcher.Run(ctx)
			return nil
		})
	}

	log.Infof("polaris %s ready: %d tools, %d skills", version, app.tools.Count(), app.skills.Count())
	fmt.Println("Polaris ready. Type a message, or /help for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return g.Wait()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Approval button presses arrive as typed callbacks on the
		// console transport.
		if strings.HasPrefix(line, "approve:") || strings.HasPrefix(line, "deny:") {
			fmt.Println(app.dispatcher.HandleCallback(line))
			continue
		}
		if reply := app.dispatcher.HandleMessage(ctx, "console", line); reply != "" {
			fmt.Println(reply)
		}
	}

	stop()
	return g.Wait()
}

// app holds the wired object graph for one serve run.
type app struct {
	cfg        *config.Config
	store      *memory.Store
	traces     *trace.Store
	mailStore  *mail.Store
	tools      *tools.Registry
	skills     *skills.Registry
	dispatcher *bot.Dispatcher
	poller     *mail.Poller
	watcher    *reload.Watcher
}

func (a *app) Close() {
	if a.mailStore != nil {
		a.mailStore.Close()
	}
	if a.traces != nil {
		a.traces.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// buildApp wires every subsystem from the configuration. Optional
// collaborators (mail fetcher, HPC clusters, paid analyzers) degrade
// to nil and their tools answer with an unavailability payload.
func buildApp(cfg *config.Config) (*app, error) {
	log := logging.Get(logging.CategoryBoot)

	embedder := embedding.NewEmbedder(cfg.Embed)
	store, err := memory.Open(cfg.Memory.DBPath, embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}
	traces, err := trace.Open(cfg.Memory.TraceDBPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open trace store: %w", err)
	}

	master := memory.NewMasterPrompt(cfg.Memory.MasterPrompt)
	feedback := memory.NewFeedbackManager(store)
	facts := memory.NewFactExtractor(store, master)
	vaultReader := vault.NewReader(cfg.Vault.Path, cfg.Vault.IndexPath, store)
	skillReg := skills.NewRegistry(cfg.Skills.Dir, cfg.Skills.ExternalPaths)

	client := llm.NewClient(cfg.LLM)

	// Mail: the fetcher is an external collaborator; without one the
	// sync is a no-op but classification of pushed summaries works.
	mailStore, err := mail.OpenStore(filepath.Join(cfg.DataDir, "mail.db"))
	if err != nil {
		traces.Close()
		store.Close()
		return nil, fmt.Errorf("failed to open mail store: %w", err)
	}
	mailSvc := mail.NewService(mailStore, nil)
	analyzer := mail.NewAnalyzer(cfg.Voting, cfg.Memory.CorrectionsLog, cfg.Mail.Accounts,
		mailInfer(client, cfg.LLM, cfg.Voting.Temperature))

	// HPC monitors share one daily SSH budget.
	budget := hpc.NewBudget(cfg.SSH.CounterFile, cfg.SSH.MaxDaily)
	monitors := make(map[string]*hpc.Monitor, len(cfg.HPC.Clusters))
	for _, profile := range cfg.HPC.Clusters {
		host := profile.Host
		if profile.Username != "" {
			host = profile.Username + "@" + profile.Host
		}
		monitors[profile.Name] = hpc.NewMonitor(profile, hpc.NewSSHRunner(host, budget))
	}

	registry := tools.NewRegistry()
	research := tools.NewResearchTools(nil, geminiAnalyzer(cfg), claudeAnalyzer(cfg))
	research.RegisterAll(registry)
	tools.RegisterCalendarTools(registry, tools.NewEventStore(filepath.Join(cfg.DataDir, "calendar.json")))
	tools.RegisterMailTools(registry, analyzer, mailSvc)
	tools.RegisterHPCTools(registry, monitors, nil)
	tools.RegisterPhDTool(registry, nil)

	gate := approval.NewGate(cfg.Approval)
	transport := bot.NewTransport(
		func(_ context.Context, text string) error {
			fmt.Println(text)
			return nil
		}, nil)

	rt := router.New(cfg.LLM, client, registry, router.Options{
		Skills:    skillReg,
		Gate:      gate,
		Transport: transport,
		Traces:    traces,
		Store:     store,
		Master:    master,
		Feedback:  feedback,
		Facts:     facts,
	})

	dispatcher := bot.NewDispatcher(bot.Deps{
		Router:        rt,
		Skills:        skillReg,
		Tools:         registry,
		Traces:        traces,
		Store:         store,
		Feedback:      feedback,
		Mail:          mailSvc,
		MailAccounts:  cfg.Mail.Accounts,
		Vault:         vaultReader,
		Monitors:      monitors,
		Gate:          gate,
		ReloadRuntime: skillReg.Refresh,
	})

	var poller *mail.Poller
	if cfg.Mail.PollInterval > 0 {
		poller = mail.NewPoller(mailSvc, transport, cfg.Mail.PollInterval, cfg.Mail.MinInterval, cfg.Mail.PollInterval/10)
	}

	var watcher *reload.Watcher
	if cfg.Reload.Enabled {
		watcher = reload.NewWatcher(".", cfg.Reload.Interval, cfg.Reload.AutoRestart, skillReg.Refresh)
	}

	if !embedder.Available() {
		log.Warnf("embedding engine unavailable; memory search degrades to keywords")
	}

	return &app{
		cfg:        cfg,
		store:      store,
		traces:     traces,
		mailStore:  mailStore,
		tools:      registry,
		skills:     skillReg,
		dispatcher: dispatcher,
		poller:     poller,
		watcher:    watcher,
	}, nil
}

// mailInfer classifies one mail summary as ACTION or FYI with a
// single fast-model call; the ensemble voter fans it out.
func mailInfer(client llm.Client, cfg config.LLMConfig, temperature float64) mail.InferFunc {
	return func(ctx context.Context, m mail.Message) (string, error) {
		resp, err := client.Chat(ctx, llm.Request{
			Model: llm.SelectModel(cfg, false),
			System: "메일을 분류해. 회신이나 행동이 필요하면 ACTION, 아니면 FYI. " +
				"다른 말 없이 정확히 한 단어만 출력해.",
			Messages: []llm.Message{{
				Role:    llm.RoleUser,
				Content: fmt.Sprintf("보낸 사람: %s\n제목: %s\n내용: %s", m.Sender, m.Subject, m.BodyPreview),
			}},
			Temperature: temperature,
			MaxTokens:   8,
		})
		if err != nil {
			return "", err
		}
		return strings.ToUpper(strings.TrimSpace(resp.Text)), nil
	}
}

func geminiAnalyzer(cfg *config.Config) tools.PaperAnalyzer {
	if cfg.Embed.GenAIAPIKey == "" {
		return nil
	}
	analyzer, err := llm.NewGeminiAnalyzer(cfg.Embed.GenAIAPIKey, "")
	if err != nil {
		logging.Get(logging.CategoryBoot).Warnf("gemini analyzer unavailable: %v", err)
		return nil
	}
	return analyzer
}

func claudeAnalyzer(cfg *config.Config) tools.PaperAnalyzer {
	if !cfg.LLM.AllowPaid || cfg.LLM.AnthropicAPIKey == "" {
		return nil
	}
	return llm.NewClaudeAnalyzer(llm.NewAnthropicClient(cfg.LLM.AnthropicAPIKey), cfg.LLM.AnthropicModel)
}
