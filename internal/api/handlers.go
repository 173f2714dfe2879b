package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/merakihealth/hospital-scheduling/internal/scheduling"
)

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

func queryDate(r *http.Request) (time.Time, bool) {
	d, err := scheduling.ParseDay(r.URL.Query().Get("date"))
	return d, err == nil
}

// GET /practitioners/{practitionerID}/availability?date=YYYY-MM-DD&slot_length=30
func availabilityHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := pathUUID(r, "practitionerID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitionerID must be a valid UUID")
			return
		}
		day, ok := queryDate(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		var length time.Duration
		if v := r.URL.Query().Get("slot_length"); v != "" {
			minutes, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_length", "slot_length must be minutes")
				return
			}
			length = time.Duration(minutes) * time.Minute
		}

		slots, err := svc.AvailableSlots(r.Context(), practitionerID, day, length)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, SlotResponse{
				Date:      scheduling.DayKey(s.Day),
				SlotStart: s.Start,
				SlotEnd:   s.End,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// POST /practitioners/{practitionerID}/windows
func declareWindowsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := pathUUID(r, "practitionerID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitionerID must be a valid UUID")
			return
		}

		var req DeclareWindowsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		day, err := scheduling.ParseDay(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		spans := make([]scheduling.WindowSpan, 0, len(req.Windows))
		for _, wp := range req.Windows {
			spans = append(spans, scheduling.WindowSpan{Start: wp.Start, End: wp.End})
		}

		created, err := svc.DeclareWindows(r.Context(), practitionerID, day, spans)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]WindowResponse, 0, len(created))
		for _, win := range created {
			resp = append(resp, toWindowResponse(win))
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

// GET /practitioners/{practitionerID}/windows?date=YYYY-MM-DD
func listWindowsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := pathUUID(r, "practitionerID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitionerID must be a valid UUID")
			return
		}
		day, ok := queryDate(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		windows, err := svc.ListWindows(r.Context(), practitionerID, day)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]WindowResponse, 0, len(windows))
		for _, win := range windows {
			resp = append(resp, toWindowResponse(win))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// DELETE /practitioners/{practitionerID}/windows?date=YYYY-MM-DD&start=HH:MM&end=HH:MM
func deleteWindowHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		practitionerID, ok := pathUUID(r, "practitionerID")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitionerID must be a valid UUID")
			return
		}
		day, ok := queryDate(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		start, err := scheduling.ParseTimeOfDay(r.URL.Query().Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be HH:MM")
			return
		}
		end, err := scheduling.ParseTimeOfDay(r.URL.Query().Get("end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end", "end must be HH:MM")
			return
		}

		cancelled, err := svc.DeleteWindow(r.Context(), practitionerID, day, start, end)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CascadeResponse{CancelledAppointmentCount: len(cancelled)})
	}
}

// POST /appointments
func bookAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		practitionerID, err := uuid.Parse(req.PractitionerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		day, err := scheduling.ParseDay(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		if req.Reason == "" {
			writeError(w, http.StatusBadRequest, "missing_reason", "reason is required")
			return
		}
		sessionType := scheduling.SessionType(req.SessionType)
		if req.SessionType != "" && !sessionType.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_session_type", "session_type must be checkup, followup, therapy or consultation")
			return
		}
		channel := scheduling.Channel(req.Channel)
		if req.Channel != "" && !channel.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_channel", "channel must be in-person or virtual")
			return
		}

		appt, err := svc.Book(r.Context(), scheduling.BookingRequest{
			HospitalID:     req.HospitalID,
			PractitionerID: practitionerID,
			PatientID:      patientID,
			Day:            day,
			SlotStart:      req.SlotStart,
			SlotLength:     time.Duration(req.SlotLengthMinutes) * time.Minute,
			Reason:         req.Reason,
			SessionType:    sessionType,
			Channel:        channel,
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

// GET /appointments/{id}
func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

// GET /appointments?hospital_id=... | ?patient_id=...  (&limit=&offset=)
func listAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		var (
			appointments []scheduling.Appointment
			err          error
		)
		switch {
		case r.URL.Query().Get("patient_id") != "":
			patientID, parseErr := uuid.Parse(r.URL.Query().Get("patient_id"))
			if parseErr != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			appointments, err = svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		case r.URL.Query().Get("hospital_id") != "":
			appointments, err = svc.ListAppointmentsByHospital(r.Context(), r.URL.Query().Get("hospital_id"), limit, offset)
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "hospital_id or patient_id is required")
			return
		}
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appointments))
		for _, a := range appointments {
			resp = append(resp, toAppointmentResponse(a))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// PATCH /appointments/{id}/reschedule
func rescheduleHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		var day time.Time
		if req.Date != "" {
			var err error
			day, err = scheduling.ParseDay(req.Date)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
		}

		appt, err := svc.Reschedule(r.Context(), id, day, req.NewSlotStart)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

// PATCH /appointments/{id}/cancel
func cancelAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

// PATCH /appointments/{id}/complete
func completeAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathUUID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req CompleteRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		appt, err := svc.Complete(r.Context(), id, req.Prescribed)
		if err != nil {
			handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}
