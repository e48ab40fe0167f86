package controller

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/types"
)

const maxWebhookBodyBytes = 1 << 20

type webhookHandler interface {
	Handle(ctx context.Context, providerName entity.ProviderName, headers http.Header, body []byte, remoteAddr string) entity.WebhookOutcome
}

// WebhookController acknowledges every delivery with 200 so providers never learn
// whether an event was rejected, duplicated or parked for replay.
type WebhookController struct {
	processor webhookHandler
	logger    logrus.FieldLogger
}

func NewWebhookController(processor webhookHandler) *WebhookController {
	return &WebhookController{
		processor: processor,
		logger:    factory.NewModuleLogger("webhooks-controller"),
	}
}

func (c *WebhookController) HandleStripe(ctx echo.Context) error {
	return c.handle(ctx, entity.ProviderStripe)
}

func (c *WebhookController) HandlePayPal(ctx echo.Context) error {
	return c.handle(ctx, entity.ProviderPayPal)
}

func (c *WebhookController) handle(ctx echo.Context, providerName entity.ProviderName) error {
	logger := factory.LoggerWithContext(c.logger, ctx).WithField("provider", providerName)

	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxWebhookBodyBytes))
	if err != nil {
		logger.WithError(err).Warn("Failed to read webhook body")
		return ctx.JSON(http.StatusOK, &types.WebhookAckResponse{Received: true})
	}

	outcome := c.processor.Handle(ctx.Request().Context(), providerName, ctx.Request().Header, body, ctx.RealIP())
	logger.WithField("outcome", outcome).Debug("Webhook handled")

	return ctx.JSON(http.StatusOK, &types.WebhookAckResponse{Received: true})
}
