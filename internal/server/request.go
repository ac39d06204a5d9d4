package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-playground/validator/v10"

	"github.com/cpuguy83/calslots/internal/availability"
)

// slotsRequest is the JSON body shared by the free-slots and events
// endpoints. Every field is optional.
type slotsRequest struct {
	StartDate    string        `json:"startDate" validate:"omitempty,datestr"`
	EndDate      string        `json:"endDate" validate:"omitempty,datestr"`
	Days         *int          `json:"days" validate:"omitempty,min=-366,max=366"`
	WorkingHours *hoursRequest `json:"workingHours"`
	Timezone     string        `json:"timezone" validate:"omitempty,max=64"`
}

type hoursRequest struct {
	Start string `json:"start" validate:"omitempty,hhmm"`
	End   string `json:"end" validate:"omitempty,hhmm"`
}

func (r *slotsRequest) query() availability.Query {
	q := availability.Query{
		StartDate: r.StartDate,
		EndDate:   r.EndDate,
		Days:      r.Days,
		Timezone:  strings.TrimSpace(r.Timezone),
	}
	if r.WorkingHours != nil {
		q.WorkStart = r.WorkingHours.Start
		q.WorkEnd = r.WorkingHours.End
	}
	return q
}

// FieldError describes one rejected request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("datestr", validateDateString)
	_ = v.RegisterValidation("hhmm", validateClock)
	return v
}

func validateDateString(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if _, err := civil.ParseDate(s); err == nil {
		return true
	}
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

func validateClock(fl validator.FieldLevel) bool {
	_, err := time.Parse("15:04", strings.TrimSpace(fl.Field().String()))
	return err == nil
}

// decodeRequest reads and validates the request body. An empty body is a
// request with every field defaulted.
func decodeRequest(r *http.Request, v *validator.Validate) (*slotsRequest, error) {
	var req slotsRequest

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, &APIError{
				Code:    CodeBadRequest,
				Message: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit),
				Status:  http.StatusRequestEntityTooLarge,
				Err:     err,
			}
		}
		return nil, &APIError{Code: CodeBadRequest, Message: "invalid JSON body: " + err.Error(), Status: http.StatusBadRequest, Err: err}
	}

	if err := v.Struct(&req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, translateValidationErrors(verrs)
		}
		return nil, err
	}
	return &req, nil
}

func translateValidationErrors(errs validator.ValidationErrors) *APIError {
	fields := make([]FieldError, 0, len(errs))
	for _, err := range errs {
		name := strings.TrimPrefix(err.Namespace(), "slotsRequest.")

		message := err.Error()
		switch err.Tag() {
		case "datestr":
			message = name + " must be a date in YYYY-MM-DD format"
		case "hhmm":
			message = name + " must be a time in HH:MM 24-hour format"
		case "min", "max":
			message = fmt.Sprintf("%s must be between -366 and 366", name)
			if name == "timezone" {
				message = "timezone is too long"
			}
		}
		fields = append(fields, FieldError{Field: name, Message: message})
	}

	msg := fields[0].Message
	if len(fields) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(fields)-1)
	}
	return &APIError{
		Code:    CodeInvalidRange,
		Message: msg,
		Details: map[string]any{"fields": fields},
		Status:  http.StatusBadRequest,
		Err:     errs,
	}
}
