// Package server wires the transports: the admin HTTP server, the gRPC health
// server and the background job server.
package server

import (
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewMetricsRegistry, NewHTTPServer, NewHealthServer, NewGRPCServer, NewJobServer)
