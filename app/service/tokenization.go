package service

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/factory"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
)

const (
	defaultTokenTTL   = 365 * 24 * time.Hour
	gcmTagSize        = 16
	stripeMethodIDPfx = "pm_"
)

type tokenRepository interface {
	Save(ctx context.Context, token *entity.Token, ttl time.Duration) error
	FindByID(ctx context.Context, id string) (*entity.Token, error)
	Delete(ctx context.Context, id string) error
}

type TokenService struct {
	tokenRepo tokenRepository
	keyring   *Keyring
	tokenTTL  time.Duration
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewTokenService(tokenRepo tokenRepository, keyring *Keyring, cfg config.TokenizationConfig) *TokenService {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	return &TokenService{
		tokenRepo: tokenRepo,
		keyring:   keyring,
		tokenTTL:  ttl,
		logger:    factory.NewModuleLogger("token-service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Tokenize seals the payment method exactly as given with AES-256-GCM under the
// active key and stores it. The token id is bound to the ciphertext as additional
// data. The normalized form is only used for validation and the masked view.
func (s *TokenService) Tokenize(ctx context.Context, method *entity.PaymentMethod) (*entity.Token, error) {
	if method == nil {
		return nil, invalidRequest("payment method is required")
	}
	normalized, err := normalizePaymentMethod(*method, s.now())
	if err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(method)
	if err != nil {
		return nil, err
	}

	keyID, key := s.keyring.Active()
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	tokenID := uuid.NewString()
	sealed := aead.Seal(nil, nonce, plaintext, []byte(tokenID))
	split := len(sealed) - gcmTagSize

	now := s.now()
	token := &entity.Token{
		ID:         tokenID,
		KeyID:      keyID,
		Ciphertext: sealed[:split],
		Nonce:      nonce,
		Tag:        sealed[split:],
		MaskedData: maskPaymentMethod(&normalized),
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.tokenTTL),
	}

	if err := s.tokenRepo.Save(ctx, token, s.tokenTTL); err != nil {
		return nil, err
	}
	return token, nil
}

// Detokenize returns the original payment method. A missing or expired token is
// ErrTokenNotFound; a tag mismatch or unknown key is ErrTokenIntegrity.
func (s *TokenService) Detokenize(ctx context.Context, tokenID string) (*entity.PaymentMethod, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil, ErrTokenNotFound
	}

	token, err := s.tokenRepo.FindByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrTokenNotFound
	}

	key, ok := s.keyring.Key(token.KeyID)
	if !ok {
		s.logger.WithFields(logrus.Fields{"token_id": tokenID, "key_id": token.KeyID}).Warn("Token sealed with unknown key")
		return nil, ErrTokenIntegrity
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(token.Nonce) != aead.NonceSize() || len(token.Tag) != gcmTagSize {
		return nil, ErrTokenIntegrity
	}

	sealed := make([]byte, 0, len(token.Ciphertext)+len(token.Tag))
	sealed = append(sealed, token.Ciphertext...)
	sealed = append(sealed, token.Tag...)
	plaintext, err := aead.Open(nil, token.Nonce, sealed, []byte(token.ID))
	if err != nil {
		s.logger.WithField("token_id", tokenID).Warn("Token failed authentication")
		return nil, ErrTokenIntegrity
	}

	var method entity.PaymentMethod
	if err := json.Unmarshal(plaintext, &method); err != nil {
		return nil, ErrTokenIntegrity
	}
	return &method, nil
}

// DeleteToken removes the token. Deleting an unknown token is not an error.
func (s *TokenService) DeleteToken(ctx context.Context, tokenID string) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return invalidRequest("token id is required")
	}
	return s.tokenRepo.Delete(ctx, tokenID)
}

// ResolvePaymentMethod turns the paymentMethod reference of a create request into
// a payment method: a stored token, a card processor payment method id, or the
// wallet keyword.
func (s *TokenService) ResolvePaymentMethod(ctx context.Context, reference string) (*entity.PaymentMethod, error) {
	reference = strings.TrimSpace(reference)
	switch {
	case reference == string(entity.PaymentMethodPayPal):
		return &entity.PaymentMethod{Type: entity.PaymentMethodPayPal}, nil
	case strings.HasPrefix(reference, stripeMethodIDPfx):
		return &entity.PaymentMethod{Type: entity.PaymentMethodCard, ProviderPaymentMethodID: reference}, nil
	}
	return s.Detokenize(ctx, reference)
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func normalizePaymentMethod(method entity.PaymentMethod, now time.Time) (entity.PaymentMethod, error) {
	method.Type = entity.PaymentMethodType(strings.ToLower(strings.TrimSpace(string(method.Type))))

	switch method.Type {
	case entity.PaymentMethodCard:
		method.CardNumber = stripSeparators(method.CardNumber)
		method.CardholderName = strings.TrimSpace(method.CardholderName)
		if !isDigits(method.CardNumber) || len(method.CardNumber) < 12 || len(method.CardNumber) > 19 || !luhnValid(method.CardNumber) {
			return method, invalidRequest("cardNumber is not a valid card number")
		}
		if method.CardholderName == "" {
			return method, invalidRequest("cardholderName is required")
		}
		if method.ExpiryYear > 0 && method.ExpiryYear < 100 {
			method.ExpiryYear += 2000
		}
		if method.ExpiryMonth < 1 || method.ExpiryMonth > 12 || method.ExpiryYear < 2000 {
			return method, invalidRequest("card expiry is invalid")
		}
		if method.ExpiryYear < now.Year() || (method.ExpiryYear == now.Year() && method.ExpiryMonth < int(now.Month())) {
			return method, invalidRequest("card is expired")
		}
		if !isDigits(method.CVV) || len(method.CVV) < 3 || len(method.CVV) > 4 {
			return method, invalidRequest("cvv must be 3 or 4 digits")
		}
		if method.CardType == "" {
			method.CardType = detectCardType(method.CardNumber)
		}
	case entity.PaymentMethodPayPal:
		method.Email = strings.TrimSpace(method.Email)
		address, err := mail.ParseAddress(method.Email)
		if err != nil || address.Address != method.Email {
			return method, invalidRequest("email is not a valid address")
		}
	case entity.PaymentMethodBankAccount:
		method.AccountNumber = stripSeparators(method.AccountNumber)
		method.RoutingNumber = stripSeparators(method.RoutingNumber)
		method.AccountHolderName = strings.TrimSpace(method.AccountHolderName)
		method.AccountType = strings.ToLower(strings.TrimSpace(method.AccountType))
		if !isDigits(method.AccountNumber) || len(method.AccountNumber) < 4 {
			return method, invalidRequest("accountNumber is invalid")
		}
		if !isDigits(method.RoutingNumber) {
			return method, invalidRequest("routingNumber is invalid")
		}
		if method.AccountHolderName == "" {
			return method, invalidRequest("accountHolderName is required")
		}
		if method.AccountType != "checking" && method.AccountType != "savings" {
			return method, invalidRequest("accountType must be checking or savings")
		}
	default:
		return method, invalidRequest("type must be card, paypal or bank_account")
	}

	return method, nil
}

func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}
	return sum%10 == 0
}

func detectCardType(number string) string {
	switch {
	case strings.HasPrefix(number, "4"):
		return "visa"
	case strings.HasPrefix(number, "34"), strings.HasPrefix(number, "37"):
		return "amex"
	case strings.HasPrefix(number, "6011"), strings.HasPrefix(number, "65"):
		return "discover"
	case len(number) >= 2 && number[0] == '5' && number[1] >= '1' && number[1] <= '5':
		return "mastercard"
	case len(number) >= 4 && number[:4] >= "2221" && number[:4] <= "2720":
		return "mastercard"
	}
	return "unknown"
}

func stripSeparators(value string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(value))
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
