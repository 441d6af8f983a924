package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/itzg/go-flagsfiller"
	"github.com/itzg/srcds-router/server"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type CliConfig struct {
	Version bool `usage:"Output version and exit"`
	Debug   bool `usage:"Enable debug logs"`
	Trace   bool `usage:"Enable trace logs"`
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func showVersion() {
	fmt.Printf("%v, commit %v, built at %v\n", version, commit, date)
}

func main() {
	// values from a .env file never override the real environment
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file loaded")
	}

	var cliConfig CliConfig
	var config server.Config

	filler := flagsfiller.New(flagsfiller.WithEnv(""))
	if err := filler.Fill(flag.CommandLine, &cliConfig); err != nil {
		logrus.WithError(err).Fatal("could not setup flags")
	}
	if err := filler.Fill(flag.CommandLine, &config); err != nil {
		logrus.WithError(err).Fatal("could not setup flags")
	}
	flag.Parse()

	if cliConfig.Version {
		showVersion()
		os.Exit(0)
	}

	if cliConfig.Trace {
		logrus.SetLevel(logrus.TraceLevel)
	} else if cliConfig.Debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Debug("Debug logs enabled")
	}

	if config.CpuProfile != "" {
		cpuProfileFile, err := os.Create(config.CpuProfile)
		if err != nil {
			logrus.WithError(err).Fatal("trying to create cpu profile file")
		}
		//goland:noinspection GoUnhandledErrorResult
		defer cpuProfileFile.Close()

		logrus.WithField("file", config.CpuProfile).Info("Starting cpu profiling")
		err = pprof.StartCPUProfile(cpuProfileFile)
		if err != nil {
			logrus.WithError(err).Fatal("trying to start cpu profile")
		}
		defer pprof.StopCPUProfile()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := server.NewServer(ctx, &config)
	if err != nil {
		logrus.WithError(err).Fatal("Could not setup server")
	}

	if err := s.Run(ctx); err != nil {
		logrus.WithError(err).Fatal("Server failed")
	}
}
