package appointment

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/intake-api/internal/model"
	"github.com/jwalitptl/intake-api/internal/service/appointment"
	"github.com/jwalitptl/intake-api/pkg/errors"
	"github.com/jwalitptl/intake-api/pkg/httputil"
)

type Handler struct {
	service appointment.AppointmentServicer
}

func NewHandler(service appointment.AppointmentServicer) *Handler {
	return &Handler{service: service}
}

func (h *Handler) GetAppointment(c *gin.Context) {
	appt, err := h.service.GetAppointment(c.Request.Context(), c.Param("encounterId"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, appt)
}

func (h *Handler) ListAppointments(c *gin.Context) {
	var filters model.AppointmentFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid query parameters", err))
		return
	}

	appts, err := h.service.ListAppointments(c.Request.Context(), &filters)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, appts)
}

// PatchAppointment merges the submitted fields into the stored record.
// Only empty spots are filled, existing values stay as they are.
func (h *Handler) PatchAppointment(c *gin.Context) {
	var updates model.JSONMap
	if err := c.ShouldBindJSON(&updates); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	appt, applied, err := h.service.PatchAppointment(c.Request.Context(), c.Param("encounterId"), updates)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"appointment": appt, "applied": applied})
}

func (h *Handler) KioskCheckIn(c *gin.Context) {
	var submission model.JSONMap
	if err := c.ShouldBindJSON(&submission); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	appt, err := h.service.KioskCheckIn(c.Request.Context(), c.Param("encounterId"), submission)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, appt)
}

func (h *Handler) RecordEvents(c *gin.Context) {
	var req model.RecordEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	resp, err := h.service.RecordEvents(c.Request.Context(), c.Param("encounterId"), req.Events)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, resp)
}

// AttachImages accepts multipart parts named photo, id and insurance and
// stores them against the appointment's kiosk check-in.
func (h *Handler) AttachImages(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid multipart form", err))
		return
	}

	var uploads []appointment.ImageUpload
	for part, headers := range form.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				httputil.RespondWithError(c, errors.BadRequest("failed to open uploaded file", err))
				return
			}
			defer f.Close()

			uploads = append(uploads, appointment.ImageUpload{
				Type:        part,
				FileName:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Size:        fh.Size,
				Data:        f,
			})
		}
	}

	if len(uploads) == 0 {
		httputil.RespondWithError(c, errors.Validation("no image parts submitted"))
		return
	}

	appt, err := h.service.AttachImages(c.Request.Context(), c.Param("encounterId"), uploads)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, appt)
}
