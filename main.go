package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/logging"
	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/middleware"
	"github.com/deemkeen/mammut/util"
	"github.com/deemkeen/mammut/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] [serve | import-blocking FILE | follow ACCT | unfollow ACCT | unblock ACCT | update-profile]\n\n", util.Name)
	pflag.PrintDefaults()
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config.yaml")
	username := pflag.StringP("user", "u", "", "local user the command acts for")
	pflag.Usage = usage
	pflag.Parse()

	var conf *util.AppConfig
	var err error
	if *configPath != "" {
		conf, err = util.ReadConfFrom(*configPath)
	} else {
		conf, err = util.ReadConf()
	}
	if err != nil {
		log.Fatal("Reading config failed", "err", err)
	}
	util.SetupLogging(conf.Conf.LogLevel)
	log.Debug("Configuration", "conf", util.PrettyPrint(conf))

	database, err := db.Open(util.ResolveFilePath(conf.Conf.DbPath))
	if err != nil {
		log.Fatal("Opening database failed", "err", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(conf, database)
	switch cmd := pflag.Arg(0); cmd {
	case "", "serve":
		err = app.serve(ctx)
	case "import-blocking":
		err = app.importBlocking(ctx, *username, pflag.Arg(1))
	case "follow", "unfollow", "unblock":
		err = app.relate(ctx, cmd, *username, pflag.Arg(1))
	case "update-profile":
		err = app.updateProfile(ctx, *username)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("Exiting", "err", err)
	}
}

// app holds the federation components shared by every command.
type app struct {
	conf      *util.AppConfig
	db        *db.DB
	registry  *prometheus.Registry
	stats     *activitypub.Stats
	urls      *activitypub.URLs
	policy    *activitypub.HostPolicy
	fetcher   *activitypub.HTTPFetcher
	resolvers *activitypub.ResolverConfig
	persons   *activitypub.Persons
	outbox    *activitypub.Outbox
	metadata  *activitypub.MetadataFetcher
}

func newApp(conf *util.AppConfig, database *db.DB) *app {
	localDomain := util.ToPuny(conf.Conf.SslDomain)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	urls := &activitypub.URLs{Domain: localDomain}
	policy := activitypub.NewHostPolicy(database, database, localDomain)
	fetcher := activitypub.NewHTTPFetcher(localDomain, urls)
	resolvers := &activitypub.ResolverConfig{
		URLs:     urls,
		Policy:   policy,
		Fetcher:  fetcher,
		Local:    database,
		Renderer: &activitypub.Renderer{URLs: urls},
	}
	if conf.Federation.SignToActivityPubGet {
		resolvers.InstanceActor = activitypub.NewInstanceActor(database).Get
	}

	return &app{
		conf:      conf,
		db:        database,
		registry:  registry,
		stats:     activitypub.NewStats(registry),
		urls:      urls,
		policy:    policy,
		fetcher:   fetcher,
		resolvers: resolvers,
		persons:   activitypub.NewPersons(database, resolvers),
		outbox:    activitypub.NewOutbox(database, database),
		metadata:  activitypub.NewMetadataFetcher(fetcher, database),
	}
}

// saveMeta makes the federation section of the config the server settings.
func (a *app) saveMeta(ctx context.Context) error {
	f := a.conf.Federation
	return a.db.SaveMeta(ctx, &domain.Meta{
		SecureMode:   f.SecureMode,
		PrivateMode:  f.PrivateMode,
		BlockedHosts: f.BlockedHosts,
		AllowedHosts: f.AllowedHosts,
	})
}

func (a *app) serve(ctx context.Context) error {
	log.Info("Starting", "version", util.GetNameAndVersion(), "domain", a.urls.Domain)
	if err := a.saveMeta(ctx); err != nil {
		return fmt.Errorf("saving federation settings: %w", err)
	}

	kernel := activitypub.NewKernel(activitypub.KernelConfig{
		Resolvers: a.resolvers,
		Store:     a.db,
		Persons:   a.persons,
		Outbox:    a.outbox,
		Metadata:  a.metadata,
		Stats:     a.stats,
	})
	server := web.NewServer(a.conf, web.Deps{
		Store:     a.db,
		Resolvers: a.resolvers,
		Verifier:  activitypub.NewVerifier(a.policy, a.db, a.persons),
		Kernel:    kernel,
		Metrics:   promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })

	if a.conf.Conf.WithAp {
		deliverer := activitypub.NewDeliverer(a.policy, a.db, a.db, a.fetcher, a.metadata, a.stats)
		worker := activitypub.NewDeliveryWorker(a.db, deliverer, activitypub.WorkerConfig{
			Workers:     a.conf.Federation.DeliveryWorkers,
			PerHostRate: a.conf.Federation.DeliveryPerHostRate,
		})
		g.Go(func() error {
			if err := worker.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if len(a.conf.Conf.AdminKeys) > 0 {
		s, err := a.console()
		if err != nil {
			return err
		}
		g.Go(func() error {
			log.Info("Starting admin console", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, ssh.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return s.Shutdown(shutdownCtx)
		})
	} else {
		log.Warn("No admin keys configured, admin console disabled")
	}

	return g.Wait()
}

func (a *app) console() (*ssh.Server, error) {
	adminKeys := a.conf.Conf.AdminKeys
	return wish.NewServer(
		wish.WithAddress(fmt.Sprintf("%s:%d", a.conf.Conf.Host, a.conf.Conf.SshPort)),
		wish.WithHostKeyPath(util.ResolveFilePathWithSubdir(".ssh", "hostkey")),
		wish.WithPublicKeyAuth(func(_ ssh.Context, key ssh.PublicKey) bool {
			return util.IsAdminKey(key, adminKeys)
		}),
		wish.WithMiddleware(
			middleware.MainTui(a.db, a.policy, a.urls.Domain),
			middleware.AdminOnly(adminKeys),
			logging.Middleware(), // last middleware executed first
		),
	)
}

func (a *app) users() *activitypub.Users {
	return activitypub.NewUsers(a.db, a.persons, a.fetcher, a.urls.Domain)
}

func (a *app) actions() *activitypub.Actions {
	return activitypub.NewActions(a.db, a.outbox, a.resolvers.Renderer)
}

func (a *app) localUser(ctx context.Context, username string) (*domain.Account, error) {
	if username == "" {
		return nil, errors.New("missing --user")
	}
	acc, err := a.db.ReadAccByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("local user %s: %w", username, err)
	}
	return acc, nil
}

func (a *app) importBlocking(ctx context.Context, username, path string) error {
	if path == "" {
		return errors.New("import-blocking needs a CSV file")
	}
	blocker, err := a.localUser(ctx, username)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := activitypub.NewBlockImporter(a.users(), a.actions()).ImportBlocking(ctx, blocker, f)
	if err != nil {
		return err
	}
	log.Info("Import finished", "blocked", res.Blocked, "skipped", res.Skipped, "failed", res.Failed)
	return nil
}

// relate follows, unfollows or unblocks the remote user acct. The activity
// is queued and sent by the delivery worker of a running server.
func (a *app) relate(ctx context.Context, cmd, username, acct string) error {
	if acct == "" {
		return fmt.Errorf("%s needs an acct like user@host", cmd)
	}
	acc, err := a.localUser(ctx, username)
	if err != nil {
		return err
	}
	target, err := a.users().ResolveAcct(ctx, acct)
	if err != nil {
		return err
	}
	if target.Remote == nil {
		return fmt.Errorf("%s is not a remote user", acct)
	}

	actions := a.actions()
	switch cmd {
	case "follow":
		err = actions.Follow(ctx, acc, target.Remote)
	case "unfollow":
		err = actions.Unfollow(ctx, acc, target.Remote)
	case "unblock":
		err = actions.Unblock(ctx, acc, target.Remote)
	}
	if err != nil {
		return err
	}
	log.Info("Queued", "cmd", cmd, "user", username, "target", target.Remote.Acct())
	return nil
}

func (a *app) updateProfile(ctx context.Context, username string) error {
	acc, err := a.localUser(ctx, username)
	if err != nil {
		return err
	}
	return a.actions().UpdateProfile(ctx, acc)
}
