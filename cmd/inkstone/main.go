package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inkstone/internal/api"
	"inkstone/internal/comments"
	"inkstone/internal/config"
	"inkstone/internal/docindex"
	"inkstone/internal/douban"
	"inkstone/internal/feed"
	"inkstone/internal/githubapp"
	"inkstone/internal/identity"
	"inkstone/internal/kudoscache"
	"inkstone/internal/pulse"
	"inkstone/internal/scheduler"
	"inkstone/internal/store"
	"inkstone/internal/validpaths"
)

const (
	feedRefreshTask  = "feed-refresh"
	validPathsTask   = "valid-paths-refresh"
	doubanCrawlTask  = "douban-crawl"
	commentsSyncTask = "comments-mirror"
	kudosFlushTask   = "kudos-flush"
	startupTimeout   = 60 * time.Second
	shutdownTimeout  = 30 * time.Second
)

func main() {
	mode := flag.String("mode", "both", "one of: api, worker, both")
	rebuild := flag.Bool("rebuild", false, "rebuild the search index and Douban mirror from scratch before serving")
	flag.Parse()

	logger := log.New(os.Stdout, "inkstone ", log.LstdFlags|log.LUTC)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("db: %v", err)
	}
	defer st.Close()

	idx, err := docindex.Open(cfg.IndexDir)
	if err != nil {
		logger.Fatalf("index: %v", err)
	}
	defer idx.Close()

	validSet := validpaths.NewEmpty()
	pathsLoader := validpaths.New(cfg.ValidPathsURL, cfg.RequestTimeout, logger)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), startupTimeout)
	if err := pathsLoader.Refresh(startupCtx, validSet); err != nil {
		logger.Printf("warning: initial valid-paths fetch failed, serving with an empty set: %v", err)
	}
	cancelStartup()

	kudos := kudoscache.New(st)
	if err := kudos.Warm(context.Background(), validSet.Paths()); err != nil {
		logger.Fatalf("kudos cache warm: %v", err)
	}

	id := identity.New(cfg.CookieSecret, cfg.StatsSecret)
	pr := pulse.New(st, cfg.HTTPAddr)

	ingester := feed.New(cfg.FeedURL, cfg.RequestTimeout)

	var app *githubapp.App
	if cfg.GitHubAppID != 0 {
		app, err = githubapp.New(cfg.GitHubAppID, cfg.GitHubAppSlug, cfg.GitHubWebhookSecret, cfg.GitHubPrivateKeyPEM, cfg.GitHubInstallationID)
		if err != nil {
			logger.Fatalf("github app: %v", err)
		}
	}

	var mirror *comments.Mirror
	if app != nil && cfg.CommentsRepo != "" {
		httpClient, err := app.InstallationHTTPClient()
		if err != nil {
			logger.Fatalf("github app installation client: %v", err)
		}
		mirror, err = comments.New(httpClient, cfg.CommentsRepo, st)
		if err != nil {
			logger.Fatalf("comments mirror: %v", err)
		}
	}

	doubanCrawler := douban.New(douban.Config{
		UID:       cfg.DoubanUID,
		Cookie:    cfg.DoubanCookie,
		UserAgent: cfg.DoubanUserAgent,
		MaxPages:  cfg.DoubanMaxPages,
	}, cfg.RequestTimeout)

	sched := scheduler.New(logger)
	sched.AddTask(feedRefreshTask, cfg.PollInterval, cfg.RequestTimeout, feedRefreshFn(ingester, idx, logger))
	sched.AddTask(validPathsTask, cfg.PollInterval, cfg.RequestTimeout, func(ctx context.Context) error {
		return pathsLoader.Refresh(ctx, validSet)
	})
	sched.AddTask(kudosFlushTask, cfg.KudosFlushInterval, cfg.RequestTimeout, func(ctx context.Context) error {
		return kudos.Flush(ctx)
	})
	if cfg.DoubanUID != "" {
		sched.AddTask(doubanCrawlTask, cfg.DoubanPollInterval, 0, doubanCrawlFn(doubanCrawler, st, logger))
	}
	if mirror != nil {
		sched.AddTask(commentsSyncTask, cfg.PollInterval, cfg.RequestTimeout, mirror.Sync)
	}

	if *rebuild {
		logger.Printf("rebuild requested: refreshing index and Douban mirror before serving")
		rebuildCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
		if err := rebuildIndex(rebuildCtx, ingester, idx, logger); err != nil {
			logger.Printf("warning: rebuild of search index failed: %v", err)
		}
		if cfg.DoubanUID != "" {
			if err := doubanCrawlFn(doubanCrawler, st, logger)(rebuildCtx); err != nil {
				logger.Printf("warning: rebuild of Douban mirror failed: %v", err)
			}
		}
		cancel()
	}

	runWorker := *mode == "worker" || *mode == "both"
	runAPI := *mode == "api" || *mode == "both"

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	if runWorker {
		sched.Start(rootCtx)
	}

	var httpSrv *http.Server
	if runAPI {
		srv := api.New(cfg, idx, validSet, kudos, id, pr, st, sched, app, logger)
		httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("listening on %s", cfg.HTTPAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatalf("server: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	logger.Printf("shutting down...")

	if httpSrv != nil {
		_ = httpSrv.Close()
	}
	cancelRoot()
	if runWorker {
		if err := sched.Shutdown(shutdownTimeout); err != nil {
			logger.Printf("warning: scheduler shutdown: %v", err)
		}
	}
}

func feedRefreshFn(ingester *feed.Ingester, idx *docindex.Index, logger *log.Logger) scheduler.TaskFunc {
	return func(ctx context.Context) error {
		posts, notModified, err := ingester.Fetch(ctx)
		if err != nil {
			return err
		}
		if notModified {
			return nil
		}

		existing, err := idx.AllIDsAndUpdatedAt()
		if err != nil {
			return err
		}
		current := make([]feed.ExistingDoc, 0, len(existing))
		for id, updatedAt := range existing {
			current = append(current, feed.ExistingDoc{ID: id, UpdatedAt: updatedAt})
		}

		upserts, deletes := feed.Diff(current, posts)
		if len(upserts) == 0 && len(deletes) == 0 {
			return nil
		}
		logger.Printf("feed refresh: %d upserts, %d deletes", len(upserts), len(deletes))
		return idx.ApplyBatch(upserts, deletes)
	}
}

func rebuildIndex(ctx context.Context, ingester *feed.Ingester, idx *docindex.Index, logger *log.Logger) error {
	posts, _, err := ingester.Fetch(ctx)
	if err != nil {
		return err
	}
	logger.Printf("rebuild: reindexing %d posts", len(posts))
	return idx.Rebuild(feed.Docs(posts))
}

func doubanCrawlFn(crawler *douban.Crawler, st *store.Store, logger *log.Logger) scheduler.TaskFunc {
	return func(ctx context.Context) error {
		items, err := crawler.CrawlAll(ctx)
		if err != nil {
			return err
		}
		logger.Printf("douban crawl: %d items", len(items))
		for _, item := range items {
			if err := st.UpsertDoubanItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	}
}
