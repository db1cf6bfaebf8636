package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"convo/internal/app"
	"convo/internal/tui"

	"github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	flagNoTUI   bool
	flagMock    bool
	flagSession string
)

func loadApplication(mock bool) (*app.Application, error) {
	cfg, err := app.LoadConfig(app.DefaultConfigPath())
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if cfg.APIKey == "" {
		mock = true
	}
	return app.NewApplication(cfg, os.Stderr, mock)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

// runREPL is the plain line-oriented fallback for terminals where the TUI
// is unwanted.
func runREPL(ctx context.Context, application *app.Application, sessionID string) error {
	if sessionID == "" {
		session, err := application.Store.CreateSession("", "", "")
		if err != nil {
			return err
		}
		sessionID = session.ID
		fmt.Printf("Started session %s\n", sessionID)
	} else {
		session, err := application.Store.GetSession(sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return fmt.Errorf("session %s not found", sessionID)
		}
		fmt.Printf("Resumed session %s (%s)\n", session.ID, session.Title)
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		var printed int
		_, err := application.Ask(ctx, sessionID, line, func(text string) {
			fmt.Print(text[printed:])
			printed = len(text)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println()
		if ctx.Err() != nil {
			return nil
		}
	}
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored conversation sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication(true)
			if err != nil {
				return err
			}
			defer application.Close()
			sessions, err := application.Store.ListSessions()
			if err != nil {
				return err
			}
			for _, s := range sessions {
				star := " "
				if s.IsStarred {
					star = "*"
				}
				count, _ := application.Store.CountMessages(s.ID)
				fmt.Printf("%s %s  %-40s  %d messages  %s\n",
					star, s.ID, s.Title, count, s.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a session and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication(true)
			if err != nil {
				return err
			}
			defer application.Close()
			deleted, err := application.Store.DeleteSession(args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("session %s not found", args[0])
			}
			fmt.Printf("Deleted session %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func newFoldersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folders",
		Short: "Manage session folders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication(true)
			if err != nil {
				return err
			}
			defer application.Close()
			folders, err := application.Store.ListFolders()
			if err != nil {
				return err
			}
			for _, f := range folders {
				fmt.Printf("%s  %s\n", f.ID, f.Name)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add [name]",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication(true)
			if err != nil {
				return err
			}
			defer application.Close()
			folder, err := application.Store.CreateFolder(args[0], "")
			if err != nil {
				return err
			}
			fmt.Printf("Created folder %s\n", folder.ID)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a folder; its sessions move to the top level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication(true)
			if err != nil {
				return err
			}
			defer application.Close()
			deleted, err := application.Store.DeleteFolder(args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("folder %s not found", args[0])
			}
			fmt.Printf("Deleted folder %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func main() {
	root := &cobra.Command{
		Use:     "convo",
		Short:   "Convo - streaming chat sessions with persistent memory",
		Long:    "Convo keeps multi-session chat conversations in SQLite, streams replies token by token, and maintains a rolling summary of older turns so long conversations stay within the model context.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := loadApplication(flagMock)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()

			if flagNoTUI {
				return runREPL(ctx, application, flagSession)
			}
			p := tea.NewProgram(tui.New(application, flagSession), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	root.Flags().BoolVarP(&flagNoTUI, "no-tui", "n", false, "Use a plain line REPL instead of the TUI")
	root.Flags().BoolVar(&flagMock, "mock", false, "Use the scripted mock provider")
	root.Flags().StringVarP(&flagSession, "session", "s", "", "Resume an existing session by id")

	root.AddCommand(newSessionsCmd())
	root.AddCommand(newFoldersCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
