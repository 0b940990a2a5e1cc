package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/teodor/alva/config"
	"github.com/teodor/alva/internal/agent"
	"github.com/teodor/alva/internal/db"
	"github.com/teodor/alva/internal/discord"
	"github.com/teodor/alva/internal/home"
	"github.com/teodor/alva/internal/llm"
	"github.com/teodor/alva/internal/memory"
	"github.com/teodor/alva/internal/messaging"
	"github.com/teodor/alva/internal/planera"
	"github.com/teodor/alva/internal/schedule"
	"github.com/teodor/alva/internal/scheduler"
	"github.com/teodor/alva/internal/tools"
	"github.com/teodor/alva/internal/weather"
)

func main() {
	cfg := config.Load()
	tz := cfg.Location()

	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer database.Close()

	apiKey := cfg.AnthropicKey
	if cfg.LLMProvider == "openai" {
		apiKey = cfg.OpenAIKey
	}
	client, err := llm.NewClient(llm.ProviderConfig{
		Provider:  cfg.LLMProvider,
		APIKey:    apiKey,
		AuthToken: cfg.AnthropicToken,
		Model:     cfg.LLMModel,
		BaseURL:   cfg.OllamaBaseURL,
	})
	if err != nil {
		log.Fatalf("failed to create LLM client: %v", err)
	}

	embedder := llm.NewOpenAIEmbedder(cfg.OpenAIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDims)
	store := memory.New(database, embedder)
	schedSvc := schedule.New(database, store, tz)

	// The messenger is wired late: the Discord bot (or console) needs the
	// agent, which needs the dispatcher, which needs the messenger.
	messenger := &lateMessenger{}

	dispatcher := tools.NewDispatcher(tools.Deps{
		Schedule:     schedSvc,
		Memory:       store,
		Messenger:    messenger,
		Weather:      weather.NewClient(cfg.WeatherUserAgent),
		Planera:      planeraClient(cfg),
		Home:         homeClient(cfg),
		ShoppingSlug: cfg.ShoppingSlug,
		Timezone:     tz,
	})

	ag := agent.New(client, dispatcher, cfg.HistoryUserLimit)

	if cfg.DiscordToken != "" {
		runBot(cfg, database, store, messenger, ag)
		return
	}
	runCLI(messenger, ag)
}

func planeraClient(cfg *config.Config) *planera.Client {
	if cfg.PlaneraURL == "" {
		return nil
	}
	return planera.NewClient(cfg.PlaneraURL, cfg.PlaneraUsername, cfg.PlaneraToken)
}

func homeClient(cfg *config.Config) *home.Client {
	if cfg.HomeAssistantURL == "" {
		return nil
	}
	return home.NewClient(cfg.HomeAssistantURL, cfg.HomeAssistantToken)
}

func runBot(cfg *config.Config, database *db.DB, store *memory.Store, messenger *lateMessenger, ag *agent.Agent) {
	bot, err := discord.NewBot(cfg.DiscordToken, cfg.DiscordChannel, ag)
	if err != nil {
		log.Fatalf("failed to start Discord bot: %v", err)
	}
	defer bot.Close()
	messenger.target = bot

	sched := scheduler.New(database, store, messenger, ag, cfg.SweepInterval)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	log.Println("bot is running. Press Ctrl+C to exit.")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down.")
}

func runCLI(messenger *lateMessenger, ag *agent.Agent) {
	messenger.target = &consoleMessenger{agent: ag}
	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)

	// Check if stdin is a pipe (non-interactive)
	stat, _ := os.Stdin.Stat()
	isPipe := (stat.Mode() & os.ModeCharDevice) == 0

	if !isPipe {
		fmt.Print("alva> ")
	}

	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			if !isPipe {
				fmt.Print("alva> ")
			}
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		reply, _, err := ag.HandleTurn(ctx, input, "local", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		} else {
			fmt.Println(reply)
		}

		if isPipe {
			break // single exchange in pipe mode
		}
		fmt.Print("alva> ")
	}
}

// lateMessenger breaks the construction cycle between the transport and the
// tool dispatcher. Sends before the target is wired are dropped with a log
// line; that window only exists during startup.
type lateMessenger struct {
	target messaging.Service
}

func (m *lateMessenger) Send(ctx context.Context, text string, priority messaging.Priority, userID string, includeInContext bool) error {
	if m.target == nil {
		log.Printf("messenger not ready, dropping: %s", text)
		return nil
	}
	return m.target.Send(ctx, text, priority, userID, includeInContext)
}

// consoleMessenger prints outbound messages to stdout for CLI mode.
type consoleMessenger struct {
	agent *agent.Agent
}

func (m *consoleMessenger) Send(_ context.Context, text string, priority messaging.Priority, userID string, includeInContext bool) error {
	prefix := ""
	if priority == messaging.PriorityPing {
		prefix = "[ping] "
	}
	fmt.Printf("%s%s\n", prefix, text)
	if includeInContext {
		m.agent.RecordAssistantNote(userID, text)
	}
	return nil
}
