// README: Dispatcher validates against the template catalog and submits sends.
package notify

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var ErrUnknownTemplate = errors.New("unknown template")

type Provider interface {
	Send(ctx context.Context, req TemplateRequest) (string, error)
}

// Dispatcher builds template requests and submits them. It performs no
// retries: a repeated send risks a duplicate customer-visible message, so
// retry policy belongs to callers that can gate on persisted flags.
type Dispatcher struct {
	provider Provider
	language string
	logger   *zap.Logger
}

func NewDispatcher(provider Provider, language string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{provider: provider, language: language, logger: logger}
}

// Dispatch sends one template message and returns the provider message id.
// A template unknown to the catalog or a wrong parameter count is a
// programmer error surfaced immediately; provider rejections come back as
// *DeliveryError after being logged.
func (d *Dispatcher) Dispatch(ctx context.Context, recipient, template string, bodyParams []string, buttons ...Button) (string, error) {
	spec, ok := catalog[template]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, template)
	}
	if len(bodyParams) != spec.bodyParams {
		return "", fmt.Errorf("template %s expects %d body params, got %d", template, spec.bodyParams, len(bodyParams))
	}
	if spec.urlButton && !hasURLButton(buttons) {
		return "", fmt.Errorf("template %s requires a url button parameter", template)
	}

	msgID, err := d.provider.Send(ctx, TemplateRequest{
		Recipient:  recipient,
		Template:   template,
		Language:   d.language,
		BodyParams: bodyParams,
		Buttons:    buttons,
	})
	if err != nil {
		var de *DeliveryError
		if errors.As(err, &de) {
			d.logger.Error("template dispatch rejected",
				zap.String("template", template),
				zap.String("recipient", recipient),
				zap.Int("provider_status", de.StatusCode),
				zap.String("provider_body", de.Body),
			)
		}
		return "", err
	}

	d.logger.Info("template dispatched",
		zap.String("template", template),
		zap.String("recipient", recipient),
		zap.String("message_id", msgID),
	)
	return msgID, nil
}

func hasURLButton(buttons []Button) bool {
	for _, b := range buttons {
		if b.SubType == ButtonURL {
			return true
		}
	}
	return false
}
