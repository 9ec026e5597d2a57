// Web-chat commands: ask a prompt through the browser-driven chat UI.
package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drover/internal/chat"
)

var (
	chatSite    string
	chatTimeout time.Duration
	chatRender  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Drive web AI chat UIs through the managed browser",
}

var chatAskCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send a prompt to a chat site and print the response",
	Long: `Opens the site in the managed browser (restoring the saved login
session), types the prompt, waits for generation to finish, and scrapes the
response text. Failures leave a screenshot under the state dir.`,
	Args: cobra.MinimumNArgs(1),
	RunE: chatAsk,
}

var chatSitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "List the chat sites drover knows how to drive",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range chat.Sites() {
			profile, _ := chat.Builtin(name)
			fmt.Printf("%-10s %s\n", name, profile.URL)
		}
	},
}

func init() {
	chatAskCmd.Flags().StringVar(&chatSite, "site", "", "Chat site (default from config: gemini)")
	chatAskCmd.Flags().DurationVar(&chatTimeout, "timeout", 0, "Max wait for the response (default from config)")
	chatAskCmd.Flags().BoolVar(&chatRender, "render", false, "Render the response as markdown")

	chatCmd.AddCommand(chatAskCmd)
	chatCmd.AddCommand(chatSitesCmd)
}

func chatAsk(cmd *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(joinArgs(args))
	if prompt == "" {
		return fmt.Errorf("prompt must not be empty")
	}

	site := chatSite
	if site == "" {
		site = cfg.Chat.DefaultSite
	}
	profile, err := chat.Resolve(site, cfg.Chat.Sites)
	if err != nil {
		return err
	}

	opts := chat.Options{
		PollInterval:    cfg.GetPollInterval(),
		ResponseTimeout: cfg.GetResponseTimeout(),
		SettleDelay:     cfg.GetSettleDelay(),
	}
	if chatTimeout > 0 {
		opts.ResponseTimeout = chatTimeout
	}

	ctx, cancel := runContext()
	defer cancel()

	logger.Info("Asking chat site",
		zap.String("site", profile.Name),
		zap.Int("prompt_chars", len(prompt)))

	driver := chat.NewDriver(newBrowserManager(), profile, opts)
	defer driver.Close()

	result, err := driver.Ask(ctx, prompt)
	if err != nil {
		return err
	}

	fmt.Printf("[%s, %s]\n\n", result.Site, result.Elapsed.Round(time.Millisecond))
	if chatRender {
		fmt.Println(renderMarkdown(result.Text))
	} else {
		fmt.Println(result.Text)
	}
	return nil
}

// renderMarkdown pretty-prints markdown for the terminal, falling back to
// the raw text when the renderer cannot be built.
func renderMarkdown(text string) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text
	}
	out, err := renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
