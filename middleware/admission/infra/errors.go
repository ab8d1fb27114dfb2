package infra

import (
	"fmt"

	"admission-gateway/middleware/admission/domain"
)

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
