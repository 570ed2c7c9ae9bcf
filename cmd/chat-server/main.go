package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TomerKal7/Chat-Room-Project/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	listenAddr := flag.String("listen", "", "control channel listen address, overrides config")
	monitorAddr := flag.String("monitor", "", "operations monitor listen address, overrides config")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *monitorAddr != "" {
		cfg.MonitorAddr = *monitorAddr
	}

	srv, err := server.New(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("building server")
	}
	if err := srv.Start(); err != nil {
		log.WithError(err).Fatal("starting server")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	sig := <-stop
	log.WithField("signal", sig.String()).Info("shutdown requested")

	if err := srv.Shutdown(10 * time.Second); err != nil {
		log.WithError(err).Warn("shutdown did not finish cleanly")
		os.Exit(1)
	}
	log.Info("server stopped")
}
