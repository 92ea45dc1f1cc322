package availability

import (
	"context"
	"time"
)

// Repository reads and writes a doctor's agenda at the service of record.
type Repository interface {
	ListRegular(ctx context.Context, matricula string) ([]RegularEntry, error)
	CreateRegular(ctx context.Context, e RegularEntry) (RegularEntry, error)
	DeleteRegular(ctx context.Context, matricula string, key RegularKey) error

	ListExceptional(ctx context.Context, matricula string) ([]ExceptionalEntry, error)
	CreateExceptional(ctx context.Context, e ExceptionalEntry) (ExceptionalEntry, error)
	DeleteExceptional(ctx context.Context, matricula string, key ExceptionalKey) error

	// Bookings lists the doctor's appointments on the day of fecha.
	Bookings(ctx context.Context, matricula string, fecha time.Time) ([]Booking, error)
	// Offered returns the slots the service of record computes itself.
	Offered(ctx context.Context, matricula string, fecha time.Time) ([]Slot, error)
}
