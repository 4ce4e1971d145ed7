// docchat is a terminal chat client for a document question-answering
// assistant over a company's annual report. The root command launches
// the interactive chat TUI; subcommands cover login, logout, one-shot
// questions, and the document's table of contents.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"docchat/cmd/docchat/chat"
	"docchat/internal/api"
	"docchat/internal/config"
	"docchat/internal/conversation"
	"docchat/internal/logging"
	"docchat/internal/session"
)

var (
	// Global flags
	cfgPath string
	apiURL  string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "Chat with the annual report assistant",
	Long: `docchat is a terminal client for a question-answering assistant over
an annual report. Answers stream in live and carry page/section
citations into the source document.

Run without arguments to start the interactive chat.`,
	SilenceUsage:      true,
	PersistentPreRunE: initEnv,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runChat,
}

var loginCmd = &cobra.Command{
	Use:   "login [email]",
	Short: "Authenticate and store the session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored session",
	RunE:  runLogout,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question without the TUI",
	Long: `Sends one question over the non-streaming endpoint and prints the
answer with its citations.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var tocCmd = &cobra.Command{
	Use:   "toc",
	Short: "Print the document's table of contents",
	RunE:  runTOC,
}

var (
	askSections []string
	askTopK     int
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $XDG_CONFIG_HOME/docchat/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "backend base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	askCmd.Flags().StringSliceVar(&askSections, "sections", nil, "restrict retrieval to these sections")
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "retrieval depth (default from config)")

	rootCmd.AddCommand(loginCmd, logoutCmd, askCmd, tocCmd)
}

// initEnv loads .env, config, and the logger for every command.
func initEnv(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	path := cfgPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}

	var err error
	cfg, err = config.Load(path)
	if err != nil {
		return err
	}
	if apiURL != "" {
		cfg.API.BaseURL = apiURL
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err = logging.New(cfg.Logging)
	return err
}

// buildClient wires the session store and the API client.
func buildClient() (*session.Store, *api.Client, error) {
	sessPath, err := config.SessionPath()
	if err != nil {
		return nil, nil, err
	}
	sess := session.NewStore(sessPath)
	if err := sess.Load(); err != nil {
		logger.Warn("failed to load session", zap.Error(err))
	}

	timeout := api.DefaultTimeout
	if d, err := time.ParseDuration(cfg.API.Timeout); err == nil {
		timeout = d
	}

	client := api.NewClient(cfg.API.BaseURL,
		api.WithTokenStore(sess),
		api.WithHTTPClient(&http.Client{Timeout: timeout}),
		api.WithLogger(logger),
	)
	return sess, client, nil
}

// gateway adapts *api.Client to the controller's Gateway interface.
type gateway struct {
	client *api.Client
}

func (g gateway) Chat(ctx context.Context, req api.ChatRequest) (*api.ChatResponse, error) {
	return g.client.Chat(ctx, req)
}

func (g gateway) OpenChatStream(ctx context.Context, message string, sections []string, topK int, conversationID string) (conversation.Stream, error) {
	stream, err := g.client.OpenChatStream(ctx, message, sections, topK, conversationID)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	sess, client, err := buildClient()
	if err != nil {
		return err
	}

	ctrl := conversation.New(gateway{client: client},
		conversation.WithTopK(cfg.Chat.TopK),
		conversation.WithHistoryLimit(cfg.Chat.HistoryLimit),
		conversation.WithLogger(logger),
	)

	model := chat.New(cfg, client, sess, ctrl, logger)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runLogin(cmd *cobra.Command, args []string) error {
	email := ""
	if len(args) > 0 {
		email = strings.TrimSpace(args[0])
	}
	if email == "" {
		fmt.Print("Email: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return err
		}
		email = strings.TrimSpace(line)
	}
	if email == "" {
		return fmt.Errorf("email required")
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}

	sess, client, err := buildClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), api.DefaultTimeout)
	defer cancel()
	resp, err := client.Login(ctx, email, string(password))
	if err != nil {
		if api.IsUnauthorized(err) {
			return fmt.Errorf("invalid email or password")
		}
		return err
	}
	if err := sess.SetUser(&session.User{ID: resp.User.ID, Email: resp.User.Email}); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s\n", resp.User.Email)
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	sess, _, err := buildClient()
	if err != nil {
		return err
	}
	if err := sess.Clear(); err != nil {
		return err
	}
	fmt.Println("Logged out.")
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	_, client, err := buildClient()
	if err != nil {
		return err
	}

	topK := cfg.Chat.TopK
	if askTopK > 0 {
		topK = askTopK
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	resp, err := client.Chat(ctx, api.ChatRequest{
		Message:  strings.Join(args, " "),
		Sections: askSections,
		TopK:     topK,
	})
	if err != nil {
		if api.IsUnauthorized(err) {
			return fmt.Errorf("session expired, run 'docchat login'")
		}
		if api.IsRateLimited(err) {
			return fmt.Errorf("rate limit exceeded, try again in a moment")
		}
		return err
	}

	if rendered, rerr := glamour.Render(resp.Answer, "auto"); rerr == nil {
		fmt.Print(rendered)
	} else {
		fmt.Println(resp.Answer)
	}
	for _, c := range resp.Citations {
		if c.SectionName != "" {
			fmt.Printf("  [p.%d] %s\n", c.PageNumber, c.SectionName)
		} else {
			fmt.Printf("  [p.%d]\n", c.PageNumber)
		}
	}
	return nil
}

func runTOC(cmd *cobra.Command, args []string) error {
	_, client, err := buildClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), api.DefaultTimeout)
	defer cancel()
	entries, err := client.TableOfContents(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%4d  %s\n", e.Page, e.Section)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
