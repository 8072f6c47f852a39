package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/flowpags/payrecon/app/controllers"
	"github.com/flowpags/payrecon/internal/pkg/constants"
)

type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	// Bank provider webhooks (signature-verified in controller, no rate
	// limit so the sender's retry bursts are never dropped)
	app.Post(constants.BankWebhookRoute, controllers.HandleBankWebhook)

	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
