package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/feeds/internal/collection"
	"github.com/MarcoPoloResearchLab/feeds/internal/config"
	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/feeds"
	"github.com/MarcoPoloResearchLab/feeds/internal/logging"
	"github.com/MarcoPoloResearchLab/feeds/internal/query"
	"github.com/MarcoPoloResearchLab/feeds/internal/realtime"
	"github.com/MarcoPoloResearchLab/feeds/internal/remote"
	"github.com/MarcoPoloResearchLab/feeds/internal/view"
)

const (
	watchActivities = "activities"
	watchComments   = "comments"
)

type watchOptions struct {
	feedID     string
	objectID   string
	objectType string
	sortMode   string
}

func newWatchCommand(defaults *viper.Viper) *cobra.Command {
	options := watchOptions{}
	cmd := &cobra.Command{
		Use:       "watch [activities|comments]",
		Short:     "Print live snapshots of a view as JSON lines",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{watchActivities, watchComments},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), args[0], options, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.String("base-url", defaults.GetString("client.base_url"), "Backend base URL")
	flags.String("user-id", "", "User to obtain a development token for")
	flags.String("token", "", "Existing bearer token")
	flags.Int("limit", defaults.GetInt("client.page_limit"), "Page size of the initial fetch")
	flags.StringVar(&options.feedID, "feed", "", "Feed to follow, e.g. timeline:alice (activities)")
	flags.StringVar(&options.objectID, "object-id", "", "Object whose thread to follow (comments)")
	flags.StringVar(&options.objectType, "object-type", feeds.ObjectActivity, "Object type of the thread (comments)")
	flags.StringVar(&options.sortMode, "sort", string(feeds.CommentSortLast), "Comment order: first, last, top, best or controversial")

	mustBind(viper.BindPFlag("client.base_url", flags.Lookup("base-url")))
	mustBind(viper.BindPFlag("client.user_id", flags.Lookup("user-id")))
	mustBind(viper.BindPFlag("client.token", flags.Lookup("token")))
	mustBind(viper.BindPFlag("client.page_limit", flags.Lookup("limit")))
	return cmd
}

func runWatch(ctx context.Context, kind string, options watchOptions, out io.Writer) error {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewConsoleLogger(clientConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := remote.NewClient(remote.Config{
		BaseURL: clientConfig.BaseURL,
		Token:   clientConfig.Token,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	if clientConfig.Token == "" {
		if err := client.Authenticate(ctx, clientConfig.UserID); err != nil {
			return err
		}
	}

	bus := events.NewBus()
	stream, err := realtime.NewClient(realtime.ClientConfig{
		URL:       realtimeURL(clientConfig.BaseURL),
		Token:     client.Token(),
		Codec:     feeds.NewCodec(),
		Publisher: bus,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	opts := feeds.Options{
		CurrentUserID: clientConfig.UserID,
		Events:        bus,
		Logger:        logger,
		OnError: func(err error) {
			logger.Warn("view refresh failed", zap.Error(err))
		},
	}

	printer := &snapshotPrinter{encoder: json.NewEncoder(out)}
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- stream.Run(ctx)
	}()

	var watchErr error
	switch kind {
	case watchActivities:
		watchErr = watchActivityView(ctx, client, options, clientConfig.PageLimit, opts, printer)
	case watchComments:
		watchErr = watchCommentView(ctx, client, options, clientConfig.PageLimit, opts, printer)
	default:
		watchErr = fmt.Errorf("unknown view %q", kind)
	}
	if watchErr != nil {
		return watchErr
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-streamErr:
		if err == nil || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func watchActivityView(ctx context.Context, client *remote.Client, options watchOptions, limit int, opts feeds.Options, printer *snapshotPrinter) error {
	resource, err := remote.NewResource[feeds.Activity](client, feeds.ResourceActivities)
	if err != nil {
		return err
	}
	q := query.Query[feeds.Activity]{Limit: limit}
	var activities *view.View[feeds.Activity]
	if options.feedID != "" {
		activities, err = feeds.NewFeedActivityView(resource, options.feedID, q, opts)
	} else {
		activities, err = feeds.NewActivityView(resource, q, opts)
	}
	if err != nil {
		return err
	}
	return follow(ctx, activities, printer)
}

func watchCommentView(ctx context.Context, client *remote.Client, options watchOptions, limit int, opts feeds.Options, printer *snapshotPrinter) error {
	if strings.TrimSpace(options.objectID) == "" {
		return errors.New("--object-id is required for comments")
	}
	sorts, err := feeds.CommentSort(feeds.CommentSortMode(options.sortMode))
	if err != nil {
		return err
	}
	resource, err := remote.NewResource[feeds.Comment](client, feeds.ResourceComments)
	if err != nil {
		return err
	}
	comments, err := feeds.NewCommentView(resource, options.objectType, options.objectID, query.Query[feeds.Comment]{Sort: sorts, Limit: limit}, opts)
	if err != nil {
		return err
	}
	return follow(ctx, comments, printer)
}

// follow prints the first page, then every published snapshot, and stops
// the view when ctx ends.
func follow[T collection.Identifiable](ctx context.Context, v *view.View[T], printer *snapshotPrinter) error {
	if _, err := v.Get(ctx); err != nil {
		return err
	}
	if err := printSnapshot(printer, v.State()); err != nil {
		return err
	}
	v.OnChange(func(state view.State[T]) {
		_ = printSnapshot(printer, state)
	})
	v.Start(ctx)
	go func() {
		<-ctx.Done()
		v.Close()
	}()
	return nil
}

type snapshotLine[T any] struct {
	Items       []T  `json:"items"`
	CanLoadMore bool `json:"can_load_more"`
}

type snapshotPrinter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func printSnapshot[T any](p *snapshotPrinter, state view.State[T]) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(snapshotLine[T]{Items: state.Items, CanLoadMore: state.CanLoadMore()})
}

func realtimeURL(baseURL string) string {
	return "ws" + strings.TrimPrefix(strings.TrimRight(baseURL, "/"), "http") + "/realtime"
}
