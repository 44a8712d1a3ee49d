package controllers

import (
	"net/http"

	"github.com/regpayhq/regpay-backend/api/responses"
	"github.com/regpayhq/regpay-backend/api/validators"
	"github.com/regpayhq/regpay-backend/internal/checkout"
	pkgerrors "github.com/regpayhq/regpay-backend/pkg/errors"
	"github.com/regpayhq/regpay-backend/pkg/logger"
)

// WebinarCheckoutRequest is the registration form for the webinar funnel.
type WebinarCheckoutRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"max=32"`
	Currency string `json:"currency" validate:"omitempty,len=3"`
}

// CourseCheckoutRequest is the enrollment form for the course funnel.
type CourseCheckoutRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Email       string `json:"email" validate:"required,email"`
	Phone       string `json:"phone" validate:"max=32"`
	CourseSlug  string `json:"course_slug" validate:"required,max=120"`
	CourseTitle string `json:"course_title" validate:"max=200"`
}

// WebinarCheckout starts a gateway session for the webinar funnel.
func WebinarCheckout(svc *checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var body WebinarCheckoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.StartWebinarCheckout(r.Context(), checkout.WebinarCheckoutInput{
			Name:     validators.SanitizeString(body.Name, 120),
			Email:    body.Email,
			Phone:    validators.SanitizeString(body.Phone, 32),
			Currency: body.Currency,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// CourseCheckout records a lead and starts a gateway session for the course
// funnel.
func CourseCheckout(svc *checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var body CourseCheckoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.StartCourseCheckout(r.Context(), checkout.CourseCheckoutInput{
			Name:        validators.SanitizeString(body.Name, 120),
			Email:       body.Email,
			Phone:       validators.SanitizeString(body.Phone, 32),
			CourseSlug:  validators.SanitizeString(body.CourseSlug, 120),
			CourseTitle: validators.SanitizeString(body.CourseTitle, 200),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}
