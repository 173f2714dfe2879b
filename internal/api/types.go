package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/merakihealth/hospital-scheduling/internal/scheduling"
)

type WindowPayload struct {
	Start scheduling.TimeOfDay `json:"start"`
	End   scheduling.TimeOfDay `json:"end"`
}

type DeclareWindowsRequest struct {
	Date    string          `json:"date"`
	Windows []WindowPayload `json:"windows"`
}

type WindowResponse struct {
	ID             uuid.UUID            `json:"id"`
	PractitionerID uuid.UUID            `json:"practitioner_id"`
	Date           string               `json:"date"`
	Start          scheduling.TimeOfDay `json:"start"`
	End            scheduling.TimeOfDay `json:"end"`
}

func toWindowResponse(w scheduling.AvailabilityWindow) WindowResponse {
	return WindowResponse{
		ID:             w.ID,
		PractitionerID: w.PractitionerID,
		Date:           scheduling.DayKey(w.Day),
		Start:          w.Start,
		End:            w.End,
	}
}

type SlotResponse struct {
	Date      string               `json:"date"`
	SlotStart scheduling.TimeOfDay `json:"slot_start"`
	SlotEnd   scheduling.TimeOfDay `json:"slot_end"`
}

type BookAppointmentRequest struct {
	HospitalID        string               `json:"hospital_id"`
	PractitionerID    string               `json:"practitioner_id"`
	PatientID         string               `json:"patient_id"`
	Date              string               `json:"date"`
	SlotStart         scheduling.TimeOfDay `json:"slot_start"`
	SlotLengthMinutes int                  `json:"slot_length_minutes,omitempty"`
	Reason            string               `json:"reason"`
	SessionType       string               `json:"session_type,omitempty"`
	Channel           string               `json:"channel,omitempty"`
}

type RescheduleRequest struct {
	Date         string               `json:"date,omitempty"`
	NewSlotStart scheduling.TimeOfDay `json:"new_slot_start"`
}

type CompleteRequest struct {
	Prescribed bool `json:"prescribed"`
}

type AppointmentResponse struct {
	ID             uuid.UUID            `json:"id"`
	HospitalID     string               `json:"hospital_id"`
	PractitionerID uuid.UUID            `json:"practitioner_id"`
	PatientID      uuid.UUID            `json:"patient_id"`
	Date           string               `json:"date"`
	SlotStart      scheduling.TimeOfDay `json:"slot_start"`
	SlotEnd        scheduling.TimeOfDay `json:"slot_end"`
	Reason         string               `json:"reason"`
	SessionType    string               `json:"session_type"`
	Channel        string               `json:"channel"`
	Status         string               `json:"status"`
	Prescribed     bool                 `json:"prescribed"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func toAppointmentResponse(a scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:             a.ID,
		HospitalID:     a.HospitalID,
		PractitionerID: a.PractitionerID,
		PatientID:      a.PatientID,
		Date:           scheduling.DayKey(a.Day),
		SlotStart:      a.SlotStart,
		SlotEnd:        a.SlotEnd,
		Reason:         a.Reason,
		SessionType:    string(a.SessionType),
		Channel:        string(a.Channel),
		Status:         string(a.Status),
		Prescribed:     a.Prescribed,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

type CascadeResponse struct {
	CancelledAppointmentCount int `json:"cancelled_appointment_count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
