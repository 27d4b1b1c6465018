package router

import (
	"github.com/gofiber/fiber/v2"

	apiv1 "github.com/stablegate/stablegate/internal/api/v1"
)

// Router installs a group of routes on the fiber app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers every route group on the app.
func InstallRouter(app *fiber.App, server *apiv1.APIServer) {
	setup(app, NewApiRouter(server))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
