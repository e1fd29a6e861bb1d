package main

import (
	"net/http"

	"github.com/phrazzld/cadence-api/internal/api"
)

// setupRouter builds the HTTP surface over the application.
func (app *application) setupRouter() http.Handler {
	return api.NewRouter(api.RouterDeps{
		Tokens:        app.tokens,
		Repository:    app.repository,
		Hub:           app.hub,
		Controller:    app,
		OperatorToken: app.config.Server.OperatorToken,
		Logger:        app.logger,
	})
}
