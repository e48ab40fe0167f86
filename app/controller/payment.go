package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/mapper"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/service"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/types"
)

const (
	codeValidation         = "VALIDATION_ERROR"
	codeNotFound           = "NOT_FOUND"
	codeInvalidTransition  = "INVALID_STATE_TRANSITION"
	codeRefundExceeds      = "REFUND_EXCEEDS_AMOUNT"
	codeTransactionBusy    = "TRANSACTION_BUSY"
	codeProcessing         = "PAYMENT_PROCESSING_ERROR"
	codeTokenIntegrity     = "TOKEN_INTEGRITY_ERROR"
	codeProviderUnsupport  = "PROVIDER_NOT_SUPPORTED"
	codeInternal           = "INTERNAL_ERROR"
	internalServerErrorMsg = "internal server error"
)

type PaymentController struct {
	transactionService *service.TransactionService
	tokenService       *service.TokenService
	logger             logrus.FieldLogger
}

func NewPaymentController(transactionService *service.TransactionService, tokenService *service.TokenService) *PaymentController {
	return &PaymentController{
		transactionService: transactionService,
		tokenService:       tokenService,
		logger:             factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentController) CreateTransaction(ctx echo.Context) error {
	req, err := types.NewCreateTransactionRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, err.Error())
	}

	result, err := c.transactionService.CreateTransaction(ctx.Request().Context(), req)
	if err != nil {
		return c.handleServiceError(ctx, err, "Create transaction failed")
	}

	txn := mapper.TransactionToResponse(result.Transaction)
	return ctx.JSON(http.StatusCreated, &types.CreateTransactionResponse{
		TransactionId:         txn.Id,
		Status:                txn.Status,
		ProviderTransactionId: txn.ProviderTransactionId,
		ClientSecret:          result.ClientSecret,
		ApprovalUrl:           result.ApprovalURL,
		RequiresAction:        result.RequiresAction,
		Transaction:           txn,
	})
}

func (c *PaymentController) GetTransaction(ctx echo.Context) error {
	req, err := types.NewGetTransactionRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, err.Error())
	}

	item, err := c.transactionService.GetTransaction(ctx.Request().Context(), req.GetId())
	if err != nil {
		return c.handleServiceError(ctx, err, "Get transaction failed")
	}

	return ctx.JSON(http.StatusOK, &types.TransactionEnvelopeResponse{Transaction: mapper.TransactionToResponse(item)})
}

func (c *PaymentController) GetByProviderTransactionID(ctx echo.Context) error {
	req, err := types.NewGetByProviderTransactionIDRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, err.Error())
	}

	providerName, _ := entity.ParseProviderName(req.GetProvider())
	item, err := c.transactionService.GetByProviderTransactionID(ctx.Request().Context(), providerName, req.GetProviderTransactionId())
	if err != nil {
		return c.handleServiceError(ctx, err, "Get transaction by provider id failed")
	}

	return ctx.JSON(http.StatusOK, &types.TransactionEnvelopeResponse{Transaction: mapper.TransactionToResponse(item)})
}

func (c *PaymentController) ListTransactions(ctx echo.Context) error {
	req, err := types.NewListTransactionsRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, err.Error())
	}

	page, err := c.transactionService.ListTransactions(ctx.Request().Context(), req)
	if err != nil {
		return c.handleServiceError(ctx, err, "List transactions failed")
	}

	return ctx.JSON(http.StatusOK, &types.ListTransactionsResponse{
		Transactions: mapper.TransactionsToResponse(page.Items),
		Pagination: types.Pagination{
			Total: page.Total,
			Page:  page.Page,
			Limit: page.Limit,
			Pages: page.Pages,
		},
	})
}

func (c *PaymentController) ConfirmTransaction(ctx echo.Context) error {
	req, err := types.NewConfirmTransactionRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, err.Error())
	}

	item, err := c.transactionService.ConfirmTransaction(ctx.Request().Context(), req.GetId())
	if err != nil {
		return c.handleServiceError(ctx, err, "Confirm transaction failed")
	}

	txn := mapper.TransactionToResponse(item)
	return ctx.JSON(http.StatusOK, &types.ConfirmTransactionResponse{
		TransactionId:         txn.Id,
		Status:                txn.Status,
		ProviderTransactionId: txn.ProviderTransactionId,
		Transaction:           txn,
	})
}

func (c *PaymentController) RefundTransaction(ctx echo.Context) error {
	req, err := types.NewRefundTransactionRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, err.Error())
	}

	result, err := c.transactionService.RefundTransaction(ctx.Request().Context(), req.GetId(), req.GetAmount(), req.GetReason())
	if err != nil {
		return c.handleServiceError(ctx, err, "Refund transaction failed")
	}

	txn := mapper.TransactionToResponse(result.Transaction)
	return ctx.JSON(http.StatusOK, &types.RefundTransactionResponse{
		TransactionId:  txn.Id,
		Status:         txn.Status,
		RefundId:       result.RefundID,
		Amount:         entity.FormatAmount(result.Amount, result.Transaction.Currency),
		RefundedAmount: txn.RefundedAmount,
		Transaction:    txn,
	})
}

func (c *PaymentController) CancelTransaction(ctx echo.Context) error {
	req, err := types.NewCancelTransactionRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, err.Error())
	}

	item, err := c.transactionService.CancelTransaction(ctx.Request().Context(), req.GetId(), req.GetReason())
	if err != nil {
		return c.handleServiceError(ctx, err, "Cancel transaction failed")
	}

	return ctx.JSON(http.StatusOK, &types.TransactionEnvelopeResponse{Transaction: mapper.TransactionToResponse(item)})
}

func (c *PaymentController) UpdateTransactionStatus(ctx echo.Context) error {
	req, err := types.NewUpdateStatusRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, err.Error())
	}

	status, _ := entity.ParseStatus(req.GetStatus())
	item, err := c.transactionService.UpdateTransactionStatus(ctx.Request().Context(), req.GetId(), status, entity.Metadata(req.GetMetadata()))
	if err != nil {
		return c.handleServiceError(ctx, err, "Update transaction status failed")
	}

	return ctx.JSON(http.StatusOK, &types.TransactionEnvelopeResponse{Transaction: mapper.TransactionToResponse(item)})
}

func (c *PaymentController) DisputeTransaction(ctx echo.Context) error {
	req, err := types.NewDisputeTransactionRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, err.Error())
	}

	item, err := c.transactionService.DisputeTransaction(ctx.Request().Context(), req.GetId(), service.DisputeInput{
		Reason:   req.GetReason(),
		Amount:   req.GetAmount(),
		Evidence: entity.Metadata(req.GetEvidence()),
	})
	if err != nil {
		return c.handleServiceError(ctx, err, "Dispute transaction failed")
	}

	return ctx.JSON(http.StatusOK, &types.TransactionEnvelopeResponse{Transaction: mapper.TransactionToResponse(item)})
}

func (c *PaymentController) Tokenize(ctx echo.Context) error {
	req, err := types.NewTokenizeRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, err.Error())
	}

	token, err := c.tokenService.Tokenize(ctx.Request().Context(), mapper.PaymentMethodFromRequest(req.GetPaymentMethod()))
	if err != nil {
		return c.handleServiceError(ctx, err, "Tokenize payment method failed")
	}

	return ctx.JSON(http.StatusCreated, mapper.TokenToResponse(token))
}

func (c *PaymentController) DeleteToken(ctx echo.Context) error {
	req, err := types.NewDeleteTokenRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, err.Error())
	}

	if err := c.tokenService.DeleteToken(ctx.Request().Context(), req.GetId()); err != nil {
		return c.handleServiceError(ctx, err, "Delete token failed")
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "Token deleted"})
}

func (c *PaymentController) handleServiceError(ctx echo.Context, err error, logMessage string) error {
	if processingErr, ok := service.AsProcessingError(err); ok {
		body := &types.ErrorResponse{
			Error:         processingErr.Error(),
			Code:          codeProcessing,
			TransactionId: processingErr.TransactionID,
		}
		if providerErr := processingErr.ProviderError(); providerErr != nil {
			body.Provider = string(providerErr.Provider)
			body.ProviderCode = providerErr.Code
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Warn(logMessage)
		return ctx.JSON(http.StatusBadGateway, body)
	}

	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return c.writeError(ctx, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, service.ErrProviderUnsupported):
		return c.writeError(ctx, http.StatusBadRequest, codeProviderUnsupport, err.Error())
	case errors.Is(err, service.ErrRefundExceedsAmount):
		return c.writeError(ctx, http.StatusBadRequest, codeRefundExceeds, err.Error())
	case errors.Is(err, service.ErrTransactionNotFound):
		return c.writeError(ctx, http.StatusNotFound, codeNotFound, "transaction not found")
	case errors.Is(err, service.ErrTokenNotFound):
		return c.writeError(ctx, http.StatusNotFound, codeNotFound, "token not found")
	case errors.Is(err, service.ErrInvalidStatus):
		return c.writeError(ctx, http.StatusConflict, codeInvalidTransition, err.Error())
	case errors.Is(err, service.ErrTransactionBusy):
		return c.writeError(ctx, http.StatusConflict, codeTransactionBusy, err.Error())
	case errors.Is(err, service.ErrTokenIntegrity):
		return c.writeError(ctx, http.StatusUnprocessableEntity, codeTokenIntegrity, err.Error())
	default:
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error(logMessage)
		return c.writeError(ctx, http.StatusInternalServerError, codeInternal, internalServerErrorMsg)
	}
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, code, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message, Code: code})
}
