package report

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ariebrainware/incident-watch/model"
	"github.com/go-playground/validator/v10"
)

var platePattern = regexp.MustCompile(`^[A-Z0-9-]{2,12}$`)

// NormalizePlate uppercases a plate and strips all whitespace: "ca 12 ab" becomes "CA12AB".
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.Join(strings.Fields(plate), ""))
}

// ValidPlate reports whether an already normalized plate is acceptable.
func ValidPlate(plate string) bool {
	return platePattern.MatchString(plate)
}

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError carries one message per offending field, keyed by the field's JSON name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = msg
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return "must be one of: " + fe.Param()
	case "gte", "lte":
		return "is out of range"
	default:
		return "is invalid"
	}
}

func checkStruct(v interface{}, verr *ValidationError) {
	err := validate.Struct(v)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.add("_", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		verr.add(fe.Field(), fieldMessage(fe))
	}
}

func checkCoordinates(lat, lng *float64, verr *ValidationError) {
	if (lat == nil) != (lng == nil) {
		verr.add("latitude", "latitude and longitude must be given together")
	}
}

// VehicleInput is the vehicle alert form.
type VehicleInput struct {
	LicensePlate     string     `json:"license_plate" form:"license_plate" validate:"required"`
	Make             string     `json:"make" form:"make" validate:"required,max=64"`
	Model            string     `json:"model" form:"model" validate:"required,max=64"`
	Color            string     `json:"color" form:"color" validate:"required,max=32"`
	Year             *int       `json:"year" form:"year" validate:"omitempty,gte=1900,lte=2100"`
	Reason           string     `json:"reason" form:"reason" validate:"required"`
	LastSeenLocation string     `json:"last_seen_location" form:"last_seen_location" validate:"max=255"`
	LastSeenTime     *time.Time `json:"last_seen_time" form:"last_seen_time"`
	Latitude         *float64   `json:"latitude" form:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude        *float64   `json:"longitude" form:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Severity         string     `json:"severity" form:"severity" validate:"required,oneof=low medium high critical"`
}

// Validate normalizes the plate in place and checks every field.
func (in *VehicleInput) Validate() error {
	in.LicensePlate = NormalizePlate(in.LicensePlate)
	in.Make = strings.TrimSpace(in.Make)
	in.Model = strings.TrimSpace(in.Model)
	in.Color = strings.TrimSpace(in.Color)
	in.Reason = strings.TrimSpace(in.Reason)
	in.LastSeenLocation = strings.TrimSpace(in.LastSeenLocation)

	verr := &ValidationError{}
	checkStruct(in, verr)
	if in.LicensePlate != "" && !ValidPlate(in.LicensePlate) {
		verr.add("license_plate", "must be 2-12 letters, digits or dashes")
	}
	checkCoordinates(in.Latitude, in.Longitude, verr)
	return verr.orNil()
}

// CrimeInput is the crime report form.
type CrimeInput struct {
	Title          string     `json:"title" form:"title" validate:"required,max=191"`
	Description    string     `json:"description" form:"description" validate:"required"`
	Location       string     `json:"location" form:"location" validate:"max=255"`
	IncidentTime   *time.Time `json:"incident_time" form:"incident_time"`
	Latitude       *float64   `json:"latitude" form:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude      *float64   `json:"longitude" form:"longitude" validate:"omitempty,gte=-180,lte=180"`
	ReportType     string     `json:"report_type" form:"report_type" validate:"required,oneof=theft burglary robbery assault vandalism fraud suspicious_activity other"`
	Severity       string     `json:"severity" form:"severity" validate:"required,oneof=low medium high critical"`
	WitnessInfo    string     `json:"witness_info" form:"witness_info"`
	ContactAllowed bool       `json:"contact_allowed" form:"contact_allowed"`
}

func (in *CrimeInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Location = strings.TrimSpace(in.Location)
	in.WitnessInfo = strings.TrimSpace(in.WitnessInfo)

	verr := &ValidationError{}
	checkStruct(in, verr)
	checkCoordinates(in.Latitude, in.Longitude, verr)
	if in.ReportType != "" && !model.CrimeType(in.ReportType).Valid() {
		verr.add("report_type", "is invalid")
	}
	return verr.orNil()
}

// StatusInput is the moderation/dispatch status change form.
type StatusInput struct {
	Status string `json:"status" form:"status" validate:"required"`
}

// CheckTransition validates a status change of a report of kind k currently in from.
func CheckTransition(k model.ReportKind, from model.ReportStatus, in StatusInput) (model.ReportStatus, error) {
	verr := &ValidationError{}
	checkStruct(in, verr)
	if err := verr.orNil(); err != nil {
		return "", err
	}
	to := model.ReportStatus(in.Status)
	if !k.ValidStatus(to) {
		verr.add("status", fmt.Sprintf("%q is not a %s status", in.Status, k))
		return "", verr
	}
	if !k.CanTransition(from, to) {
		return "", fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	return to, nil
}

var ErrInvalidTransition = errors.New("status transition not allowed")
