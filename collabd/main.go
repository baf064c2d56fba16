package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/blocshub/collab/collab"
	"github.com/blocshub/collab/services"
)

const LocalVersion = "0.0.0-local"

func main() {
	usage := `Collab session daemon.

Coordinates shared project rooms over an attach websocket and exposes
the service registry over HTTP.

Usage:
    collabd serve [--port=<port>] [--db=<db>] [-v...]

Options:
    -h --help          Show this screen.
    --version          Show version.
    --db=<db>          Sqlite database path. In-memory storage when unset.
    -p --port=<port>   Listen port [default: 8080].
    -v...              Enable verbose mode.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RequireVersion())
	if err != nil {
		panic(err)
	}

	if verboseCount, err := opts.Int("-v"); err == nil {
		flag.Set("logtostderr", "true")
		flag.Set("stderrthreshold", "INFO")
		flag.Set("v", fmt.Sprintf("%d", verboseCount))
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

func serve(opts docopt.Opts) {
	port, _ := opts.Int("--port")

	cancelCtx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	defer cancel()

	var storage collab.Storage
	if dbAny := opts["--db"]; dbAny != nil {
		sqliteStorage, err := collab.NewSqliteStorage(dbAny.(string))
		if err != nil {
			panic(err)
		}
		storage = sqliteStorage
	} else {
		storage = collab.NewMemoryStorage()
	}
	defer storage.Close()

	directory := collab.NewRoomDirectoryWithDefaults(cancelCtx, storage)
	connections := collab.NewConnectionRegistry()

	registry := collab.NewServiceRegistry(connections)
	if err := services.RegisterAll(registry); err != nil {
		panic(err)
	}

	wsServer := collab.NewWsServerWithDefaults(cancelCtx, connections, directory)

	router := registry.Router()
	router.Handle("/attach", wsServer)

	fmt.Printf("collabd %s on *:%d\n", RequireVersion(), port)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		defer cancel()
		if err := server.ListenAndServe(); err != nil {
			glog.Infof("[collabd]server error = %s\n", err)
		}
	}()

	select {
	case <-cancelCtx.Done():
	}

	server.Shutdown(context.Background())
	directory.Close()

	os.Exit(0)
}

func RequireVersion() string {
	if version := os.Getenv("COLLAB_VERSION"); version != "" {
		return version
	}
	return LocalVersion
}
