package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	mcpclient "github.com/MegaGrindStone/go-mcp-client"
	"github.com/MegaGrindStone/go-mcp-client/agent"
	"github.com/MegaGrindStone/go-mcp-client/registry"
	"github.com/MegaGrindStone/go-mcp-client/session"
	"github.com/MegaGrindStone/go-mcp-client/session/sqlitestore"
)

func main() {
	configPath := flag.String("config", "", "Path to the mcpServers config file (required)")
	flag.StringVar(configPath, "c", "", "Path to the mcpServers config file (required) (shorthand)")
	dbPath := flag.String("db", "", "Path to the SQLite session database (in-memory when empty)")
	model := flag.String("model", agent.DefaultOpenAIModel, "OpenAI model to use")
	verbose := flag.Bool("v", false, "Enable debug logging")

	flag.Parse()

	if *configPath == "" {
		fmt.Println("Error: config is required")
		flag.Usage()
		os.Exit(1)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		fmt.Println("Error: OPENAI_API_KEY is not set")
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*configPath, *dbPath, *model, apiKey, logger); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
}

func run(configPath, dbPath, model, apiKey string, logger *slog.Logger) error {
	cfg, err := registry.Load(configPath)
	if err != nil {
		return err
	}

	var store session.Store
	if dbPath != "" {
		store, err = sqlitestore.New(dbPath, session.DefaultTTL)
		if err != nil {
			return err
		}
	} else {
		store = session.NewMemoryStore(session.DefaultTTL)
	}
	defer store.Close()

	manager := agent.NewManager(
		mcpclient.Info{Name: "mcp-agent", Version: "0.1.0"},
		agent.WithManagerLogger(logger),
	)
	defer manager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = manager.Connect(ctx, cfg)
	cancel()
	if err != nil {
		return err
	}
	printStatus(manager)

	chooser := agent.NewOpenAIChooser(apiKey,
		agent.WithOpenAIModel(model),
		agent.WithOpenAILogger(logger),
	)

	a := agent.New(store, chooser, manager, agent.WithLogger(logger))

	return chatLoop(a, manager)
}

func chatLoop(a *agent.Agent, manager *agent.Manager) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		cancel()
	}()

	fmt.Println("Type a message, or /tools, /status, /new, /quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit":
			return nil
		case "/new":
			fmt.Println("Started session", a.NewSession())
			continue
		case "/status":
			printStatus(manager)
			continue
		case "/tools":
			for _, tool := range manager.Tools() {
				fmt.Printf("  %s - %s\n", tool.Key(), tool.Tool.Description)
			}
			continue
		}

		reply, err := a.ProcessRequest(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Println("Error:", err)
			continue
		}
		fmt.Println(reply)
	}
}

func printStatus(manager *agent.Manager) {
	for name, status := range manager.ServerStatus() {
		if status.Running {
			fmt.Printf("  %s: running\n", name)
			continue
		}
		fmt.Printf("  %s: failed (%v)\n", name, status.Err)
	}
}
