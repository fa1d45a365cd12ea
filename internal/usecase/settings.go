package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lead-qualifier/internal/integrations/paramstore"
)

// RuntimeConfig is the operator-editable configuration read from SSM.
type RuntimeConfig struct {
	Model              string
	NotificationNumber string
}

// Settings reads RuntimeConfig on demand. Caching belongs to the getter
// (see paramstore.Cached), so edits are picked up once its TTL lapses.
type Settings struct {
	params      ParamGetter
	paramPrefix string
}

func NewSettings(p ParamGetter, paramPrefix string) (*Settings, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	return &Settings{params: p, paramPrefix: paramPrefix}, nil
}

// Load returns the model (required) and the operator notification number,
// which is empty when the parameter does not exist.
func (s *Settings) Load(ctx context.Context) (RuntimeConfig, error) {
	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/openai_model")
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("usecase: load openai model: %w", err)
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return RuntimeConfig{}, errors.New("usecase: load openai model: empty value")
	}

	number, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/notification_number")
	switch {
	case errors.Is(err, paramstore.ErrNotFound):
		number = ""
	case err != nil:
		return RuntimeConfig{}, fmt.Errorf("usecase: load notification number: %w", err)
	}

	return RuntimeConfig{Model: model, NotificationNumber: strings.TrimSpace(number)}, nil
}
