package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/queryflowproject/queryflow/pkg/dispatch"
	"github.com/queryflowproject/queryflow/pkg/mailbox"
	"github.com/queryflowproject/queryflow/pkg/tracing"
	"github.com/queryflowproject/queryflow/pkg/util/log"
)

func main() {
	var (
		logConfig        log.Config
		dispatcherConfig dispatch.Config
		mailboxHostname  string
		mailboxPort      int
	)
	logConfig.RegisterFlags(flag.CommandLine)
	dispatcherConfig.RegisterFlags(flag.CommandLine)
	flag.StringVar(&mailboxHostname, "broker.mailbox-hostname", "localhost", "Hostname advertised for the broker reduce mailbox.")
	flag.IntVar(&mailboxPort, "broker.mailbox-port", 9102, "Port advertised for the broker reduce mailbox.")
	flag.Parse()

	log.CheckFatal("initializing logger", log.InitLogger(&logConfig))
	log.CheckFatal("validating dispatcher config", dispatcherConfig.Validate())

	trace, err := tracing.New("queryflow-broker")
	log.CheckFatal("initializing tracing", err)
	defer trace.Close()

	mailboxService := mailbox.NewService(mailboxHostname, mailboxPort, log.Logger)
	mailboxService.Start()
	defer mailboxService.Shutdown()

	dispatcher := dispatch.NewQueryDispatcher(dispatcherConfig, mailboxService, prometheus.DefaultRegisterer, log.Logger)
	defer dispatcher.Shutdown()

	level.Info(log.Logger).Log("msg", "queryflow broker up", "mailbox", mailboxService.Hostname(), "port", mailboxService.Port())

	term := make(chan os.Signal, 1)
	signal.Notify(term, os.Interrupt, syscall.SIGTERM)
	<-term
	level.Info(log.Logger).Log("msg", "received shutdown signal, exiting")
}
