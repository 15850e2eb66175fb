// Copyright 2018-2025 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Command mdvaultd runs the document server: the JSON API, the WebDAV
// surface and the disk-to-database sync machinery in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	appctxmw "github.com/mdvault/mdvault/internal/http/interceptors/appctx"
	logmw "github.com/mdvault/mdvault/internal/http/interceptors/log"
	"github.com/mdvault/mdvault/internal/http/interceptors/secure"
	"github.com/mdvault/mdvault/internal/http/services/api"
	"github.com/mdvault/mdvault/internal/http/services/webdav"
	"github.com/mdvault/mdvault/pkg/appctx"
	"github.com/mdvault/mdvault/pkg/auth"
	"github.com/mdvault/mdvault/pkg/config"
	"github.com/mdvault/mdvault/pkg/document"
	"github.com/mdvault/mdvault/pkg/reconciler"
	"github.com/mdvault/mdvault/pkg/storage/localfs"
	"github.com/mdvault/mdvault/pkg/store"
	"github.com/mdvault/mdvault/pkg/store/memory"
	storesql "github.com/mdvault/mdvault/pkg/store/sql"
	"github.com/mdvault/mdvault/pkg/syncer"
	"github.com/mdvault/mdvault/pkg/token/jwt"
	"github.com/mdvault/mdvault/pkg/watcher"
)

var (
	versionFlag = flag.Bool("version", false, "show version and exit")
	configFlag  = flag.String("c", "", "set configuration file")
)

// gitCommit is injected at build time.
var gitCommit = "dev"

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("mdvaultd %s\n", gitCommit)
		os.Exit(0)
	}

	conf, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mdvaultd: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(conf.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mdvaultd: %v\n", err)
		os.Exit(1)
	}

	if err := run(conf, log); err != nil {
		log.Fatal().Err(err).Msg("mdvaultd exited")
	}
}

func newLogger(c config.Log) (*zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	var w = zerolog.New(os.Stderr)
	if c.Pretty {
		w = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log := w.Level(level).With().Timestamp().Logger()
	return &log, nil
}

func newStore(c config.DB) (store.Store, error) {
	switch c.Driver {
	case "postgres":
		return storesql.New(c.DSN)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown db driver: %s", c.Driver)
	}
}

func run(conf *config.Config, log *zerolog.Logger) error {
	st, err := newStore(conf.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	fs, err := localfs.New(conf.Storage.DataDir)
	if err != nil {
		return err
	}

	var syncOpts []syncer.Option
	if conf.Sync.DebounceWindow > 0 {
		syncOpts = append(syncOpts, syncer.WithDebounceWindow(conf.Sync.DebounceWindow))
	}
	if conf.Sync.RecentlyWrittenTTL > 0 {
		syncOpts = append(syncOpts, syncer.WithRecentlyWrittenTTL(conf.Sync.RecentlyWrittenTTL))
	}
	coord := syncer.New(syncOpts...)
	defer coord.Close()

	engine := document.New(st, fs, coord)

	accessTTL := conf.Auth.AccessTokenTTL
	if accessTTL == 0 {
		accessTTL = jwt.DefaultTTL
	}
	tm, err := jwt.New(conf.Auth.JWTSecret, accessTTL)
	if err != nil {
		return err
	}
	authn := auth.NewAuthenticator(st, tm)

	var watchOpts []watcher.Option
	if conf.Sync.Stability > 0 {
		watchOpts = append(watchOpts, watcher.WithStability(conf.Sync.Stability))
	}
	w := watcher.New(fs, st, engine, coord, watchOpts...)

	var reconOpts []reconciler.Option
	if conf.Sync.ReconcileInterval > 0 {
		reconOpts = append(reconOpts, reconciler.WithInterval(conf.Sync.ReconcileInterval))
	}
	recon := reconciler.New(st, fs, engine, reconOpts...)

	handler := router(conf, log, authn, st, fs, engine, coord)

	srv := &http.Server{
		Addr:              conf.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = appctx.WithLogger(ctx, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(ctx) })
	g.Go(func() error { return recon.Run(ctx) })
	g.Go(func() error {
		log.Info().Str("addr", conf.HTTP.Addr).Str("data_dir", fs.DataDir()).Msg("mdvaultd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	})
	return g.Wait()
}

func router(conf *config.Config, log *zerolog.Logger, authn *auth.Authenticator, st store.Store, fs *localfs.FS, engine *document.Engine, coord *syncer.Coordinator) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", api.New(authn, st, fs, engine, api.Config{
		OpenRegistration: conf.Bootstrap.OpenRegistration,
		SecureCookies:    !conf.Auth.InsecureCookies,
		CookieName:       conf.Auth.RefreshCookieName,
	})))
	mux.Handle(webdav.Prefix+"/", http.StripPrefix(webdav.Prefix, webdav.New(authn, st, fs, engine, coord)))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if conf.HTTP.EnableMetrics {
		mux.Handle("/metrics", promhttp.Handler())
	}

	var h http.Handler = mux
	if conf.HTTP.MaxBodyBytes > 0 {
		h = http.MaxBytesHandler(h, conf.HTTP.MaxBodyBytes)
	}
	if len(conf.HTTP.CORSOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins:   conf.HTTP.CORSOrigins,
			AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "PROPFIND", "MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Depth", "Destination", "Overwrite", "X-Requested-With"},
			AllowCredentials: true,
		}).Handler(h)
	}
	if len(conf.HTTP.TrustedProxies) > 0 {
		h = realIP(conf.HTTP.TrustedProxies, h)
	}
	h = secure.New()(h)
	h = logmw.New()(h)
	h = appctxmw.New(*log)(h)
	return h
}

// realIP rewrites RemoteAddr from X-Forwarded-For, but only when the
// direct peer is a configured proxy.
func realIP(proxies []string, next http.Handler) http.Handler {
	trusted := map[string]bool{}
	for _, p := range proxies {
		trusted[p] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil && trusted[host] {
			if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
				r.RemoteAddr = fwd
			}
		}
		next.ServeHTTP(w, r)
	})
}
