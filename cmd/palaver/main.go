// Package main is the palaver entry point: an interactive console for
// chatting with an LLM provider, with tool calling and transcript export.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/yukin371/palaver/internal/adapters/openai"
	"github.com/yukin371/palaver/internal/chat"
	"github.com/yukin371/palaver/internal/config"
	"github.com/yukin371/palaver/internal/event"
	"github.com/yukin371/palaver/internal/export"
	"github.com/yukin371/palaver/pkg/logger"
)

// version is set by build flags during release
var version = "dev"

var (
	cfgFile      string
	verbose      bool
	flagModel    string
	flagBaseURL  string
	flagNoStream bool
	flagSystem   string
)

var rootCmd = &cobra.Command{
	Use:   "palaver [message]",
	Short: "Conversational LLM console",
	Long: `Palaver is a conversational console for OpenAI-compatible LLM
services. It keeps the full turn history, runs registered tools when the
model asks for them, and can export the transcript.

With a message argument it answers once and exits; without one it starts
an interactive session. Type 'exit' to leave, or '/export <file.md>' to
save the transcript.`,
	Version: version,
	Args:    cobra.ArbitraryArgs,
	RunE:    runConsole,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.palaver/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.Flags().StringVarP(&flagModel, "model", "m", "", "model or deployment name")
	rootCmd.Flags().StringVar(&flagBaseURL, "base-url", "", "custom API base URL")
	rootCmd.Flags().BoolVar(&flagNoStream, "no-stream", false, "wait for complete responses instead of streaming")
	rootCmd.Flags().StringVar(&flagSystem, "system", "", "system prompt for the session")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFrom(cfgFile)
	}
	return config.Load()
}

func buildProvider(cfg *config.Config) (*openai.Provider, error) {
	p := cfg.Provider
	if flagModel != "" {
		p.Model = flagModel
	}
	if flagBaseURL != "" {
		p.BaseURL = flagBaseURL
	}

	var opts []openai.Option
	if p.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(p.BaseURL))
	}

	switch p.Kind {
	case "openai":
		return openai.New(p.APIKey, p.Model, opts...), nil
	case "azure":
		if p.Endpoint == "" {
			return nil, fmt.Errorf("azure provider requires provider.endpoint")
		}
		return openai.NewAzure(p.Endpoint, p.Model, p.APIVersion, p.APIKey, opts...), nil
	case "ollama":
		return openai.NewOllama(p.Model, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", p.Kind)
	}
}

func runConsole(cmd *cobra.Command, args []string) error {
	if verbose {
		logger.SetLevel(logger.LevelDebug)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	systemPrompt := cfg.Console.SystemPrompt
	if flagSystem != "" {
		systemPrompt = flagSystem
	}
	streaming := cfg.Console.Stream && !flagNoStream

	bus := event.NewBus()
	if verbose {
		bus.SubscribeAll(func(ev event.Event) {
			logger.Debug("event %s %v", ev.Type, ev.Data)
		})
	}

	var chatOpts []chat.Option
	chatOpts = append(chatOpts,
		chat.WithBus(bus),
		chat.WithStreaming(streaming),
		chat.WithTemperature(cfg.Provider.Temperature),
	)
	if systemPrompt != "" {
		chatOpts = append(chatOpts, chat.WithSystemPrompt(systemPrompt))
	}
	if cfg.Provider.MaxTokens > 0 {
		chatOpts = append(chatOpts, chat.WithMaxTokens(cfg.Provider.MaxTokens))
	}

	session, err := chat.New(provider, chatOpts...)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if len(args) > 0 {
		return ask(ctx, session, cfg, streaming, strings.Join(args, " "))
	}

	fmt.Printf("palaver %s, talking to %s (%s)\n", version, provider.Name(), provider.Model())
	fmt.Println("Type 'exit' to quit, '/export <file.md>' to save the transcript.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case input == "exit" || input == "quit":
			return nil
		case strings.HasPrefix(input, "/export"):
			if err := exportTranscript(session, strings.TrimSpace(strings.TrimPrefix(input, "/export"))); err != nil {
				fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
			}
			continue
		}

		if err := ask(ctx, session, cfg, streaming, input); err != nil {
			fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
		}
		fmt.Println()
	}
	return scanner.Err()
}

func ask(ctx context.Context, session *chat.Chat, cfg *config.Config, streaming bool, input string) error {
	if streaming {
		resp, err := session.Stream(ctx, input)
		if err != nil {
			return err
		}
		for chunk := range resp.Chunks() {
			fmt.Print(chunk)
		}
		fmt.Println()
		if err := resp.Err(); err != nil {
			return err
		}
		reportUsage(session)
		return nil
	}

	resp, err := session.Chat(ctx, input)
	if err != nil {
		return err
	}
	fmt.Print(render(resp.Text(), cfg.Console.RenderMarkdown))
	reportUsage(session)
	return nil
}

// render pushes the reply through a terminal markdown renderer, falling
// back to plain text when rendering is off or fails.
func render(text string, markdown bool) string {
	if !markdown {
		return text + "\n"
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return text + "\n"
	}
	out, err := r.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

func reportUsage(session *chat.Chat) {
	if !verbose {
		return
	}
	in, out := session.TokenUsage()
	logger.Debug("tokens: %d in, %d out", in, out)
}

func exportTranscript(session *chat.Chat, path string) error {
	if path == "" {
		return fmt.Errorf("usage: /export <file.md|file.html>")
	}
	return export.Transcript(path, session.Turns(false), export.Options{
		Title:        "Palaver transcript",
		SystemPrompt: session.SystemPrompt(),
		IncludeAll:   verbose,
		Overwrite:    true,
	})
}
