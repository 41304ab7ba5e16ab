package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/clinicore/clinic-ops/internal/directory"
	"github.com/clinicore/clinic-ops/internal/events"
	"github.com/clinicore/clinic-ops/internal/identity"
	"github.com/clinicore/clinic-ops/internal/notify"
	"github.com/clinicore/clinic-ops/internal/observability/metrics"
	"github.com/clinicore/clinic-ops/internal/push"
	"github.com/clinicore/clinic-ops/internal/realtime"
	"github.com/clinicore/clinic-ops/pkg/logging"
)

var tracer = otel.Tracer("clinicops.internal.notifications")

// Directory resolves the people behind an event's recipient ids.
type Directory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*directory.Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*directory.Doctor, error)
	ListAdmins(ctx context.Context) ([]directory.Admin, error)
}

// RecordStore persists clinician notification records.
type RecordStore interface {
	Insert(ctx context.Context, rec *Record) error
}

// Dispatcher consumes outbox entries and delivers them per recipient. Every
// channel is best effort and individually caught; by the time Handle runs the
// triggering transaction has already committed, so nothing here can reach the
// original caller.
type Dispatcher struct {
	directory Directory
	records   RecordStore
	bus       realtime.Bus
	push      push.Service
	email     notify.EmailSender
	metrics   *metrics.AppointmentMetrics
	logger    *logging.Logger
}

// NewDispatcher wires the delivery channels. records, bus, push and email may
// each be nil; the corresponding channel is skipped.
func NewDispatcher(dir Directory, records RecordStore, bus realtime.Bus, pushSvc push.Service, email notify.EmailSender, m *metrics.AppointmentMetrics, logger *logging.Logger) *Dispatcher {
	if dir == nil {
		panic("notifications: directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		directory: dir,
		records:   records,
		bus:       bus,
		push:      pushSvc,
		email:     email,
		metrics:   m,
		logger:    logger,
	}
}

// wireMessage is the realtime/push envelope shared by all recipients.
type wireMessage struct {
	Type    string          `json:"type"`
	Title   string          `json:"title"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Handle delivers one committed event to all its recipients. Only a render
// failure (unknown kind, corrupt payload) is returned; channel failures are
// logged and swallowed so the entry is not retried forever over one flaky
// channel.
func (d *Dispatcher) Handle(ctx context.Context, entry events.OutboxEntry) error {
	ctx, span := tracer.Start(ctx, "notifications.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("clinicops.event_kind", string(entry.Kind)))

	start := time.Now()
	defer func() {
		d.metrics.ObserveFanoutLatency(string(entry.Kind), time.Since(start).Seconds())
	}()

	content, err := Render(entry.Kind, entry.Payload)
	if err != nil {
		return err
	}
	var rec events.Recipients
	if err := json.Unmarshal(entry.Payload, &rec); err != nil {
		return fmt.Errorf("notifications: decode recipients: %w", err)
	}

	msg := wireMessage{
		Type:    string(entry.Kind),
		Title:   content.Title,
		Message: content.Message,
		Data:    entry.Payload,
	}

	if rec.PatientID != uuid.Nil {
		d.notifyPatient(ctx, entry.Kind, rec, msg)
	}
	if rec.DoctorID != uuid.Nil {
		d.notifyDoctor(ctx, entry.Kind, rec, msg)
	}
	d.notifyAdmins(ctx, entry.Kind, msg)
	return nil
}

func (d *Dispatcher) notifyPatient(ctx context.Context, kind events.Kind, rec events.Recipients, msg wireMessage) {
	if d.bus != nil {
		delivered := d.bus.SendToPatient(rec.PatientID, msg)
		d.observe(kind, "realtime", delivered)
	}

	patient, err := d.directory.GetPatient(ctx, rec.PatientID)
	if err != nil {
		d.logger.Warn("fanout: patient lookup failed", "patient_id", rec.PatientID, "error", err)
		return
	}
	if patient.UserID != nil {
		d.sendPush(ctx, kind, *patient.UserID, msg)
	}
}

func (d *Dispatcher) notifyDoctor(ctx context.Context, kind events.Kind, rec events.Recipients, msg wireMessage) {
	// Clinicians get a persisted record; its wording comes from the same
	// rendering as the transient channels.
	if d.records != nil {
		patientID := rec.PatientID
		appointmentID := rec.AppointmentID
		record := &Record{
			RecipientDoctorID: rec.DoctorID,
			PatientID:         &patientID,
			AppointmentID:     &appointmentID,
			Type:              string(kind),
			Title:             msg.Title,
			Message:           msg.Message,
			Payload:           msg.Data,
		}
		if err := d.records.Insert(ctx, record); err != nil {
			d.logger.Error("fanout: record persist failed", "doctor_id", rec.DoctorID, "error", err)
			d.observe(kind, "record", false)
		} else {
			d.observe(kind, "record", true)
		}
	}

	doctor, err := d.directory.GetDoctor(ctx, rec.DoctorID)
	if err != nil {
		d.logger.Warn("fanout: doctor lookup failed", "doctor_id", rec.DoctorID, "error", err)
		return
	}
	if doctor.UserID != nil {
		if d.bus != nil {
			delivered := d.bus.SendToUser(*doctor.UserID, msg)
			d.observe(kind, "realtime", delivered)
		}
		d.sendPush(ctx, kind, *doctor.UserID, msg)
	}
}

func (d *Dispatcher) notifyAdmins(ctx context.Context, kind events.Kind, msg wireMessage) {
	if d.bus != nil {
		delivered := d.bus.SendToRole(identity.RoleAdmin, msg)
		d.observe(kind, "realtime", delivered)
	}
	if d.email == nil && d.push == nil {
		return
	}
	admins, err := d.directory.ListAdmins(ctx)
	if err != nil {
		d.logger.Warn("fanout: admin lookup failed", "error", err)
		return
	}
	for _, a := range admins {
		// Static address-book entries carry no user account and cannot
		// receive push.
		if a.UserID != uuid.Nil {
			d.sendPush(ctx, kind, a.UserID, msg)
		}
		if d.email == nil {
			continue
		}
		err := d.email.Send(ctx, notify.EmailMessage{
			To:      a.Email,
			Subject: msg.Title,
			Body:    msg.Message,
		})
		if err != nil {
			d.logger.Warn("fanout: admin email failed", "to", a.Email, "error", err)
		}
		d.observe(kind, "email", err == nil)
	}
}

func (d *Dispatcher) sendPush(ctx context.Context, kind events.Kind, userID uuid.UUID, msg wireMessage) {
	if d.push == nil {
		return
	}
	res, err := d.push.SendPushNotification(ctx, userID, push.Notification{
		Title:   msg.Title,
		Message: msg.Message,
		Type:    msg.Type,
	})
	if err != nil {
		d.logger.Warn("fanout: push failed", "user_id", userID, "error", err)
		d.observe(kind, "push", false)
		return
	}
	d.observe(kind, "push", res.Success)
}

func (d *Dispatcher) observe(kind events.Kind, channel string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	d.metrics.ObserveFanout(string(kind), channel, status)
}

var _ events.DeliveryHandler = (*Dispatcher)(nil)
