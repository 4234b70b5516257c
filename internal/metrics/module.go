package metrics

import "go.uber.org/fx"

// Module provides the prometheus registry and collectors for the fx
// application. No HTTP handler is registered here; a collaborator outside
// this core mounts the *prometheus.Registry on its own /metrics endpoint.
var Module = fx.Options(
	fx.Provide(NewRegistry),
	fx.Provide(New),
)
