package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/flowpags/payrecon/app/controllers"
	"github.com/flowpags/payrecon/internal/pkg/constants"
	"github.com/flowpags/payrecon/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(), middleware.APIKeyAuthMiddleware())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "payment reconciliation api",
		})
	})

	v1 := api.Group(constants.APIv1Route)
	v1.Get(constants.WebhookEventsRoute, controllers.HandleListWebhookEvents)
	v1.Post(constants.WebhookEventRetryRoute, controllers.HandleRetryWebhookEvent)
	v1.Get(constants.TransactionSuggestRoute, controllers.HandleTransactionSuggestions)
	v1.Post(constants.ManualReconcileRoute, controllers.HandleManualReconcile)
	v1.Post(constants.ReconcileRunRoute, controllers.HandleReconcileRun)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
