package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ComponentLogger derives a logger from the global one tagged with component
// and node fields.
func ComponentLogger(component, node string) zerolog.Logger {
	ctx := log.Logger.With().Str("component", component)
	if node != "" {
		ctx = ctx.Str("node", node)
	}
	return ctx.Logger()
}
