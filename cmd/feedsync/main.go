package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/feedsync/internal/config"
	"github.com/MarcoPoloResearchLab/feedsync/internal/database"
	"github.com/MarcoPoloResearchLab/feedsync/internal/localstore"
	"github.com/MarcoPoloResearchLab/feedsync/internal/logging"
	"github.com/MarcoPoloResearchLab/feedsync/internal/posts"
	"github.com/MarcoPoloResearchLab/feedsync/internal/remote"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "feedsync",
		Short:         "Offline-first feed client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newFetchCommand(),
		newListCommand(),
		newSaveCommand(),
		newRemoveCommand(),
		newLikeCommand(),
		newPendingCommand(),
		newWatchCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, describeFailure(err))
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("server-url", defaults.GetString("server.base_url"), "Feed API base URL")
	cmd.PersistentFlags().String("token", "", "Bearer token (overrides env)")
	cmd.PersistentFlags().String("cache-path", defaults.GetString("cache.path"), "SQLite cache path")
	cmd.PersistentFlags().Int("timeout-seconds", defaults.GetInt("http.timeout_seconds"), "Request timeout in seconds")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "server.base_url", "server-url")
	bindFlag(cmd, "auth.token", "token")
	bindFlag(cmd, "cache.path", "cache-path")
	bindFlag(cmd, "http.timeout_seconds", "timeout-seconds")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// session owns the repository and its resources for one command invocation.
type session struct {
	repository *posts.Repository
	logger     *zap.Logger
	close      func()
}

func openSession(ctx context.Context) (*session, error) {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewConsoleLogger(clientConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(clientConfig.CachePath, logger, &posts.PostEntity{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	store, err := localstore.New(ctx, localstore.Config{Database: db, Logger: logger})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	client, err := remote.NewClient(remote.Config{
		BaseURL: clientConfig.ServerBaseURL,
		Token:   clientConfig.Token,
		Timeout: clientConfig.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	repository, err := posts.NewRepository(posts.RepositoryConfig{
		Store:  store,
		Remote: client,
		Logger: logger,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &session{
		repository: repository,
		logger:     logger,
		close: func() {
			// let the startup refresh finish before the handle goes away
			<-repository.Ready()
			_ = sqlDB.Close()
			_ = logger.Sync()
		},
	}, nil
}

// withSession opens a session, runs fn and releases the session.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()
	return fn(ctx, s)
}

func newFetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download every post from the server into the local cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				if err := s.repository.FetchAll(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d posts cached\n", len(s.repository.Data().Current()))
				return nil
			})
		},
	}
}

func newListCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the cached posts without contacting the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return printPosts(cmd.OutOrStdout(), s.repository.Data().Current(), asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print posts as JSON")
	return cmd
}

func newSaveCommand() *cobra.Command {
	var (
		id                    int64
		content               string
		attachmentURL         string
		attachmentDescription string
	)
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create a post, or update the post with --id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			post := posts.Post{ID: id, Content: content}
			if attachmentURL != "" {
				post.Attachment = &posts.Attachment{
					URL:         attachmentURL,
					Description: attachmentDescription,
					Type:        posts.AttachmentTypeImage,
				}
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return s.repository.Save(ctx, post)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "Id of the post to update; 0 creates a new post")
	cmd.Flags().StringVar(&content, "content", "", "Post text")
	cmd.Flags().StringVar(&attachmentURL, "image", "", "Image attachment URL")
	cmd.Flags().StringVar(&attachmentDescription, "image-description", "", "Image attachment description")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a post locally and on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return s.repository.RemoveByID(ctx, id)
			})
		},
	}
}

func newLikeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "like <id>",
		Short: "Toggle the like on a cached post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, s *session) error {
				return s.repository.LikeByID(ctx, id)
			})
		},
	}
}

func newPendingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Print the lowest locally reserved post id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, s *session) error {
				select {
				case <-s.repository.Ready():
				case <-ctx.Done():
					return ctx.Err()
				}
				fmt.Fprintln(cmd.OutOrStdout(), s.repository.LowestPendingID())
				return nil
			})
		},
	}
}

func newWatchCommand() *cobra.Command {
	var (
		fetchFirst bool
		interval   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the cached feed every time it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withSession(cmd, func(_ context.Context, s *session) error {
				updates, unsubscribe := s.repository.Data().Subscribe(signalCtx)
				defer unsubscribe()
				if fetchFirst {
					go refreshLoop(signalCtx, s, interval)
				}
				for snapshot := range updates {
					fmt.Fprintf(cmd.OutOrStdout(), "--- %s\n", time.Now().Format(time.RFC3339))
					if err := printPosts(cmd.OutOrStdout(), snapshot, false); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&fetchFirst, "fetch", false, "Fetch from the server while watching")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Repeat the fetch at this interval; 0 fetches once")
	return cmd
}

func refreshLoop(ctx context.Context, s *session, interval time.Duration) {
	for {
		if err := s.repository.FetchAll(ctx); err != nil {
			s.logger.Info("watch refresh failed", zap.String("reason", describeFailure(err)))
		}
		if interval <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func printPosts(out io.Writer, snapshot []posts.Post, asJSON bool) error {
	if asJSON {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(snapshot)
	}
	if len(snapshot) == 0 {
		_, err := fmt.Fprintln(out, "no posts cached")
		return err
	}
	for _, post := range snapshot {
		if _, err := fmt.Fprintln(out, formatPost(post)); err != nil {
			return err
		}
	}
	return nil
}

func formatPost(post posts.Post) string {
	marker := " "
	if post.IsPending() {
		marker = "*"
	}
	liked := ""
	if post.LikedByMe {
		liked = " (liked)"
	}
	line := fmt.Sprintf("%s%d\t%s\t%s\t♥ %d%s", marker, post.ID, post.Author, post.Content, post.Likes, liked)
	if post.Attachment != nil {
		line += "\t[" + post.Attachment.URL + "]"
	}
	return line
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid post id %q", raw)
	}
	return id, nil
}

// describeFailure renders an error for the terminal.
func describeFailure(err error) string {
	var apiErr *posts.APIError
	switch {
	case errors.As(err, &apiErr):
		return fmt.Sprintf("server rejected the request: %d %s", apiErr.StatusCode, apiErr.StatusMessage)
	case errors.Is(err, posts.ErrNetwork):
		return "could not reach the server, check your connection"
	case errors.Is(err, posts.ErrUnknown):
		return "something went wrong, try again"
	default:
		return err.Error()
	}
}
