package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	es "github.com/opensearch-project/opensearch-go/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"golang.org/x/sync/errgroup"

	"github.com/prism-social/prism/automod"
	"github.com/prism-social/prism/automod/countstore"
	"github.com/prism-social/prism/events"
	"github.com/prism-social/prism/feed"
	"github.com/prism-social/prism/indexer"
	"github.com/prism-social/prism/ranking"
	"github.com/prism-social/prism/ranking/boost"
	"github.com/prism-social/prism/search"
	"github.com/prism-social/prism/stream"
	"github.com/prism-social/prism/transparency"
	"github.com/prism-social/prism/util/cliutil"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "prismd",
		Usage:   "event indexing, ranking, and transparency daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server to consume content events from",
			Value:   nats.DefaultURL,
			EnvVars: []string{"PRISM_NATS_URL", "NATS_URL"},
		},
		&cli.StringFlag{
			Name:    "search-hosts",
			Usage:   "opensearch hosts (schema/host/port), comma-separated",
			Value:   "http://localhost:9200",
			EnvVars: []string{"PRISM_SEARCH_HOSTS", "ES_HOSTS"},
		},
		&cli.StringFlag{
			Name:    "search-username",
			Value:   "admin",
			EnvVars: []string{"PRISM_SEARCH_USERNAME", "ES_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "search-password",
			Value:   "admin",
			EnvVars: []string{"PRISM_SEARCH_PASSWORD", "ES_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "search-cert-file",
			Usage:   "certificate file path for the search cluster",
			EnvVars: []string{"PRISM_SEARCH_CERT_FILE", "ES_CERT_FILE"},
		},
		&cli.StringFlag{
			Name:    "post-index",
			Usage:   "search index for 'post' documents",
			Value:   "prism_posts",
			EnvVars: []string{"PRISM_POST_INDEX"},
		},
		&cli.IntFlag{
			Name:    "max-metadb-connections",
			EnvVars: []string{"MAX_METADB_CONNECTIONS"},
			Value:   40,
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the combined indexer+feed service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Value:   "sqlite://data/prismd/prism.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3080",
			EnvVars: []string{"PRISM_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3081",
			EnvVars: []string{"PRISM_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection for moderation rate counters, eg: redis://localhost:6379/0",
			EnvVars: []string{"PRISM_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "event-secret",
			Usage:   "shared HMAC key for event signature verification; empty disables verification",
			EnvVars: []string{"PRISM_EVENT_SECRET"},
		},
		&cli.StringFlag{
			Name:    "boost-campaigns",
			Usage:   "path to a JSON file of promotion campaigns; empty disables boosted bundles",
			EnvVars: []string{"PRISM_BOOST_CAMPAIGNS"},
		},
		&cli.BoolFlag{
			Name:    "no-search",
			Usage:   "disable the search index; feeds serve from the primary store only",
			EnvVars: []string{"PRISM_NO_SEARCH"},
		},
		&cli.IntFlag{
			Name:    "stream-workers",
			Usage:   "parallel ingestion workers (events stay ordered per author)",
			Value:   8,
			EnvVars: []string{"PRISM_STREAM_WORKERS"},
		},
	},
	Action: func(cctx *cli.Context) error {
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		// Enable OTLP HTTP exporter
		// For relevant environment variables:
		// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
		// At a minimum, you need to set
		// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
		if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
			logger.Info("setting up trace exporter", "endpoint", ep)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			exp, err := otlptracehttp.New(ctx)
			if err != nil {
				return fmt.Errorf("failed to create trace exporter: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := exp.Shutdown(ctx); err != nil {
					logger.Error("failed to shutdown trace exporter", "err", err)
				}
			}()

			tp := tracesdk.NewTracerProvider(
				tracesdk.WithBatcher(exp),
				tracesdk.WithResource(resource.NewWithAttributes(
					semconv.SchemaURL,
					semconv.ServiceNameKey.String("prismd"),
					attribute.String("env", os.Getenv("ENVIRONMENT")),
					attribute.String("environment", os.Getenv("ENVIRONMENT")),
					attribute.Int64("ID", 1),
				)),
			)
			otel.SetTracerProvider(tp)
		}

		db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-metadb-connections"))
		if err != nil {
			return err
		}

		var counters countstore.CountStore
		if rurl := cctx.String("redis-url"); rurl != "" {
			counters, err = countstore.NewRedisCountStore(rurl)
			if err != nil {
				return fmt.Errorf("connecting to redis: %w", err)
			}
		} else {
			logger.Info("redis not configured, using in-process moderation counters")
			counters = countstore.NewMemCountStore()
		}

		var docs indexer.DocIndexer
		var searcher feed.Searcher
		if !cctx.Bool("no-search") {
			escli, err := createOsClient(cctx)
			if err != nil {
				return fmt.Errorf("failed to set up opensearch: %w", err)
			}
			searchClient := search.NewClient(escli, cctx.String("post-index"), logger)
			docs = searchClient
			searcher = searchClient
		}

		nc, err := nats.Connect(cctx.String("nats-url"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer nc.Close()

		js, err := jetstream.New(nc)
		if err != nil {
			return fmt.Errorf("creating JetStream context: %w", err)
		}

		tlog := transparency.NewStore(db, logger)
		evaluator := automod.NewEvaluator(logger, counters)
		publisher := stream.NewPublisher(js, "events", logger)

		ix, err := indexer.NewIndexer(db, docs, evaluator, tlog, publisher, logger)
		if err != nil {
			return fmt.Errorf("setting up indexer: %w", err)
		}

		validator := &events.Validator{}
		if secret := cctx.String("event-secret"); secret != "" {
			validator.Secret = []byte(secret)
		}
		consumerCfg := stream.DefaultConsumerConfig()
		consumerCfg.Concurrency = cctx.Int("stream-workers")
		consumer := stream.NewConsumer(js, consumerCfg, validator, ix, db, logger)

		registry, err := buildRegistry(cctx.String("boost-campaigns"))
		if err != nil {
			return err
		}

		svc, err := feed.NewService(db, registry, tlog, searcher, feed.DefaultServiceConfig(), logger)
		if err != nil {
			return err
		}
		srv := feed.NewServer(svc, db, logger)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			return consumer.Run(ctx)
		})
		if docs != nil {
			reconciler := indexer.NewReconciler(db, docs, logger)
			eg.Go(func() error {
				return reconciler.Run(ctx)
			})
		}
		eg.Go(func() error {
			if err := srv.RunAPI(cctx.String("bind")); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		go func() {
			if err := runMetrics(cctx.String("metrics-listen")); err != nil {
				logger.Error("failed to start metrics endpoint", "err", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		logger.Info("starting prismd", "version", versioninfo.Short(), "bind", cctx.String("bind"))
		if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("shutdown complete")
		return nil
	},
}

func runMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

// buildRegistry assembles the bundle set, wrapping each scoring bundle in a
// promotion layer when a campaign file is configured.
func buildRegistry(campaignFile string) (*ranking.Registry, error) {
	if campaignFile == "" {
		return ranking.DefaultRegistry(), nil
	}

	raw, err := os.ReadFile(campaignFile)
	if err != nil {
		return nil, fmt.Errorf("reading campaign file: %w", err)
	}
	var campaigns []boost.Campaign
	if err := json.Unmarshal(raw, &campaigns); err != nil {
		return nil, fmt.Errorf("parsing campaign file: %w", err)
	}

	engine := boost.NewEngine()
	for i := range campaigns {
		if err := engine.AddCampaign(&campaigns[i]); err != nil {
			return nil, fmt.Errorf("invalid campaign %d: %w", i, err)
		}
	}

	var bundles []ranking.Bundle
	for _, info := range ranking.DefaultRegistry().List() {
		b, err := ranking.DefaultRegistry().Get(info.ID)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
		if info.ID != "chronological" {
			bundles = append(bundles, boost.Wrap(b, engine))
		}
	}
	return ranking.NewRegistry(bundles...)
}

func createOsClient(cctx *cli.Context) (*es.Client, error) {

	addrs := []string{}
	if hosts := cctx.String("search-hosts"); hosts != "" {
		addrs = strings.Split(hosts, ",")
	}

	certfi := cctx.String("search-cert-file")
	var cert []byte
	if certfi != "" {
		b, err := os.ReadFile(certfi)
		if err != nil {
			return nil, err
		}
		cert = b
	}

	cfg := es.Config{
		Addresses: addrs,
		Username:  cctx.String("search-username"),
		Password:  cctx.String("search-password"),

		CACert: cert,
	}

	escli, err := es.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up client: %w", err)
	}

	info, err := escli.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to get opensearch info: %w", err)
	}
	defer info.Body.Close()

	return escli, nil
}
