package broadcast

import (
	"context"
	"errors"

	"github.com/attendly/server/internal/attendance/domain"
	"github.com/attendly/server/internal/attendance/service"
)

// Multi publishes to every broadcaster and joins their errors.
type Multi []service.Broadcaster

func (m Multi) Publish(ctx context.Context, o domain.Outcome) error {
	var errs []error
	for _, b := range m {
		if err := b.Publish(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
