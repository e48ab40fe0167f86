package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-payment-gateway/app/entity"
)

const tokenKeyPrefix = "token:"

type TokenRepository struct {
	store KeyValueStore
}

func NewTokenRepository(store KeyValueStore) *TokenRepository {
	return &TokenRepository{store: store}
}

func (r *TokenRepository) Save(ctx context.Context, token *entity.Token, ttl time.Duration) error {
	payload, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, tokenKeyPrefix+token.ID, payload, ttl)
}

func (r *TokenRepository) FindByID(ctx context.Context, id string) (*entity.Token, error) {
	payload, err := r.store.Get(ctx, tokenKeyPrefix+id)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var token entity.Token
	if err := json.Unmarshal(payload, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *TokenRepository) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, tokenKeyPrefix+id)
}
