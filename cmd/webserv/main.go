// Command webserv is the process entry point: load configuration, build
// the reactor and event loop, and run until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/s00inx/webserv/internal/config"
	"github.com/s00inx/webserv/internal/httpd"
	"github.com/s00inx/webserv/internal/obs"
	"github.com/s00inx/webserv/internal/reactor"
)

var (
	configPath = flag.String("config", "webserv.yaml", "path to the endpoint configuration file")
	debug      = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	log, err := obs.New(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "webserv: build logger:", err)
		return 1
	}
	defer log.Sync()

	endpoints, err := config.Load(*configPath)
	if err != nil {
		log.Error("load configuration", zap.String("path", *configPath), zap.Error(err))
		return 1
	}

	rx, err := reactor.New()
	if err != nil {
		log.Error("create reactor", zap.Error(err))
		return 1
	}

	loop, err := httpd.NewEventLoop(endpoints, log, rx)
	if err != nil {
		log.Error("build event loop", zap.Error(err))
		_ = rx.Close()
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		<-ctx.Done()
		log.Info("received interrupt, stopping")
		loop.Stop()
		return nil
	})

	log.Info("webserv starting", zap.Int("endpoints", len(endpoints)))
	runErr := loop.Run()
	stop() // unblock the interrupt watcher above even on a non-signal exit
	_ = g.Wait()
	loop.Shutdown()

	if runErr != nil {
		log.Error("event loop exited with error", zap.Error(runErr))
		return 1
	}
	log.Info("webserv stopped cleanly")
	return 0
}
