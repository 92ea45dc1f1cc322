package scheduling

import (
	"context"

	"github.com/clinica/turnos/internal/domain/lifecycle"
)

// Repository is the clinic service's view of appointments, prescriptions
// and the people involved.
type Repository interface {
	Get(ctx context.Context, key Key) (*Appointment, error)
	List(ctx context.Context, f Filter) ([]*Appointment, error)
	Create(ctx context.Context, a *Appointment) error
	Transition(ctx context.Context, key Key, action lifecycle.Action) error
	Update(ctx context.Context, key Key, u AppointmentUpdate) error

	CreatePrescription(ctx context.Context, key Key) (*Prescription, error)
	GetPrescription(ctx context.Context, id int) (*Prescription, error)
	AddPrescriptionItem(ctx context.Context, prescriptionID int, item PrescriptionItem) error
	ListPrescriptions(ctx context.Context, key Key) ([]*Prescription, error)
	// PrescriptionPDF returns the printable prescription as rendered by the
	// clinic service.
	PrescriptionPDF(ctx context.Context, id int) ([]byte, error)

	Doctor(ctx context.Context, matricula string) (*Doctor, error)
	Patient(ctx context.Context, nro int) (*Patient, error)
}
