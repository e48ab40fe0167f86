package service

import (
	"fmt"
	"strings"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

func maskPaymentMethod(method *entity.PaymentMethod) entity.MaskedPaymentMethod {
	masked := entity.MaskedPaymentMethod{Type: method.Type}

	switch method.Type {
	case entity.PaymentMethodCard:
		masked.CardNumber = "**** **** **** " + lastN(method.CardNumber, 4)
		masked.CardType = method.CardType
		if method.ExpiryMonth > 0 && method.ExpiryYear > 0 {
			masked.ExpiryDate = fmt.Sprintf("%02d/%04d", method.ExpiryMonth, method.ExpiryYear)
		}
		masked.CardholderName = maskName(method.CardholderName)
	case entity.PaymentMethodPayPal:
		masked.Email = maskEmail(method.Email)
	case entity.PaymentMethodBankAccount:
		masked.AccountNumber = "****" + lastN(method.AccountNumber, 4)
		masked.AccountType = method.AccountType
	}

	return masked
}

// maskName keeps the first initial and the last name: "Jane Q Doe" -> "J. Doe".
func maskName(name string) string {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	first := []rune(parts[0])
	return string(first[0]) + ". " + parts[len(parts)-1]
}

// maskEmail keeps two characters of the local part and the whole domain.
func maskEmail(email string) string {
	local, domain, found := strings.Cut(strings.TrimSpace(email), "@")
	if !found {
		return ""
	}
	runes := []rune(local)
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return string(runes) + "***@" + domain
}

func lastN(value string, n int) string {
	if len(value) <= n {
		return value
	}
	return value[len(value)-n:]
}
