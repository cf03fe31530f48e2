// Package main is the entry point of the Bulwark service.
// It runs the admin HTTP server, the gRPC health server and the job server
// hosting the consistency cron and the Kafka consumer.
package main

import (
	"flag"
	"os"

	"Bulwark/internal/conf"
	"Bulwark/internal/server"
	pkglog "Bulwark/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "bulwark"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, gs *grpc.Server, hs *http.Server, js *server.JobServer) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			gs,
			hs,
			js,
		),
	)
}

func main() {
	flag.Parse()

	// Load configuration using Viper with environment variable support
	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Use fallback logger before Zap is initialized
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := pkglog.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	logger := pkglog.NewKratosAdapter(zapLog)
	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)

	pkglog.NewLogHelper(logger).Startup("Bulwark service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"log.env", bc.Log.Env,
		"http.addr", bc.Server.GetHttp().GetAddr(),
		"grpc.addr", bc.Server.GetGrpc().GetAddr(),
		"kafka.brokers", bc.Data.GetKafka().GetBrokers(),
		"consistency.checks", len(bc.GetConsistency().GetChecks()),
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Breaker, bc.Retry, bc.DeadLetter, bc.Consistency, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
