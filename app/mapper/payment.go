package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/types"
)

func TransactionToResponse(item *entity.Transaction) *types.Transaction {
	if item == nil {
		return nil
	}

	return &types.Transaction{
		Id:                    item.ID,
		Amount:                entity.FormatAmount(item.Amount, item.Currency),
		Currency:              item.Currency,
		Status:                string(item.Status),
		Provider:              string(item.Provider),
		ProviderTransactionId: derefString(item.ProviderTransactionID),
		PaymentMethod:         item.PaymentMethod,
		Description:           derefString(item.Description),
		CustomerId:            derefString(item.CustomerID),
		CustomerEmail:         derefString(item.CustomerEmail),
		RefundedAmount:        entity.FormatAmount(item.RefundedAmount, item.Currency),
		RetryCount:            item.RetryCount,
		NextRetryAt:           formatOptionalTime(item.NextRetryAt),
		ErrorMessage:          derefString(item.ErrorMessage),
		ErrorCode:             derefString(item.ErrorCode),
		Metadata:              cloneMetadata(item.Metadata),
		CompletedAt:           formatOptionalTime(item.CompletedAt),
		CreatedAt:             item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:             item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func TransactionsToResponse(items []*entity.Transaction) []*types.Transaction {
	result := make([]*types.Transaction, 0, len(items))
	for _, item := range items {
		result = append(result, TransactionToResponse(item))
	}
	return result
}

func TokenToResponse(item *entity.Token) *types.TokenResponse {
	if item == nil {
		return nil
	}

	masked := item.MaskedData
	return &types.TokenResponse{
		TokenId: item.ID,
		MaskedData: types.MaskedPaymentMethod{
			Type:           string(masked.Type),
			CardNumber:     masked.CardNumber,
			CardType:       masked.CardType,
			ExpiryDate:     masked.ExpiryDate,
			CardholderName: masked.CardholderName,
			Email:          masked.Email,
			AccountNumber:  masked.AccountNumber,
			AccountType:    masked.AccountType,
		},
		CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339),
		ExpiresAt: item.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func PaymentMethodFromRequest(payload *types.PaymentMethodPayload) *entity.PaymentMethod {
	if payload == nil {
		return nil
	}

	return &entity.PaymentMethod{
		Type:                    entity.PaymentMethodType(payload.Type),
		CardNumber:              payload.CardNumber,
		CardholderName:          payload.CardholderName,
		ExpiryMonth:             payload.ExpiryMonth,
		ExpiryYear:              payload.ExpiryYear,
		CVV:                     payload.Cvv,
		CardType:                payload.CardType,
		Email:                   payload.Email,
		AccountNumber:           payload.AccountNumber,
		RoutingNumber:           payload.RoutingNumber,
		AccountHolderName:       payload.AccountHolderName,
		AccountType:             payload.AccountType,
		ProviderPaymentMethodID: payload.ProviderPaymentMethodId,
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatOptionalTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}

func cloneMetadata(src entity.Metadata) map[string]interface{} {
	if len(src) == 0 {
		return map[string]interface{}{}
	}
	return map[string]interface{}(src.Clone())
}
