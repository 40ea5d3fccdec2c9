package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/otp-board/api/schemas"
	"github.com/xkilldash9x/otp-board/internal/normalize"
	"github.com/xkilldash9x/otp-board/internal/store"
)

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func formValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.PostFormValue(key))
}

func (s *Server) handleLoginRequest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	phone := normalize.Phone(formValue(r, "phone"))
	if phone == "" {
		writeError(w, http.StatusUnprocessableEntity, "phone is required")
		return
	}
	prefs := schemas.Preferences{
		IDNumber: formValue(r, "id_number"),
		City:     formValue(r, "city"),
		Branch:   formValue(r, "branch"),
		Date:     formValue(r, "date"),
		TimeFrom: formValue(r, "time_from"),
		TimeTo:   formValue(r, "time_to"),
	}

	if _, err := s.store.Enqueue(r.Context(), phone, prefs); err != nil {
		s.logger.Error("Could not queue login request", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not queue request")
		return
	}
	s.metrics.RecordEnqueued()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	phone := normalize.Phone(formValue(r, "phone"))
	code := normalize.Code(formValue(r, "code"))
	if phone == "" || code == "" {
		writeError(w, http.StatusUnprocessableEntity, "phone and code are required")
		return
	}

	if _, err := s.store.SubmitOTP(r.Context(), phone, code); err != nil {
		s.logger.Error("Could not store OTP", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not store code")
		return
	}
	s.metrics.RecordOTPSubmitted()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLoginNext(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.ClaimNext(r.Context())
	if err != nil {
		s.logger.Error("Could not claim job", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not claim job")
		return
	}
	if job != nil {
		s.metrics.RecordClaim()
	}
	writeJSON(w, http.StatusOK, schemas.NewNextJobResponse(job))
}

func queryID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) handleLoginMark(w http.ResponseWriter, r *http.Request) {
	id, ok := queryID(r)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "id must be a positive integer")
		return
	}
	status, err := schemas.ParseJobStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	err = s.store.SetStatus(r.Context(), id, status)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case err != nil:
		s.logger.Error("Could not update job status", zap.Int64("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not update job")
	default:
		s.logger.Info("Job status updated", zap.Int64("job_id", id), zap.String("status", string(status)))
		writeJSON(w, http.StatusOK, schemas.AckResponse{OK: true})
	}
}

func (s *Server) handleOTPLatest(w http.ResponseWriter, r *http.Request) {
	phone := normalize.Phone(r.URL.Query().Get("phone"))
	if phone == "" {
		writeError(w, http.StatusUnprocessableEntity, "phone is required")
		return
	}
	otp, err := s.store.LatestOTP(r.Context(), phone)
	if err != nil {
		s.logger.Error("Could not look up OTP", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not look up code")
		return
	}
	if otp == nil {
		writeJSON(w, http.StatusOK, schemas.LatestOTPResponse{})
		return
	}
	id, code := otp.ID, otp.Code
	writeJSON(w, http.StatusOK, schemas.LatestOTPResponse{ID: &id, Code: &code})
}

func (s *Server) handleOTPMarkUsed(w http.ResponseWriter, r *http.Request) {
	id, ok := queryID(r)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "id must be a positive integer")
		return
	}
	if err := s.store.MarkOTPUsed(r.Context(), id); err != nil {
		s.logger.Error("Could not mark OTP used", zap.Int64("otp_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not mark code")
		return
	}
	writeJSON(w, http.StatusOK, schemas.AckResponse{OK: true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
