// Package report implements vehicle alert and crime report submission, editing and
// dashboard aggregation.
package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ariebrainware/incident-watch/config"
	"github.com/ariebrainware/incident-watch/geocode"
	"github.com/ariebrainware/incident-watch/model"
	"github.com/ariebrainware/incident-watch/storage"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// State is a step of a submission.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateLocating   State = "locating"
	StateUploading  State = "uploading"
	StateSubmitting State = "submitting"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// ErrStorageUnavailable is returned when images are attached but no store is configured.
var ErrStorageUnavailable = fmt.Errorf("image storage is not configured: %w", config.ErrStorageNotConfigured)

// Geocoder resolves coordinates to a place name.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (string, error)
}

// Submission records the state progression of one submit or edit.
type Submission struct {
	mu      sync.Mutex
	history []State
}

func newSubmission() *Submission {
	return &Submission{history: []State{StateIdle}}
}

func (s *Submission) set(st State) {
	s.mu.Lock()
	s.history = append(s.history, st)
	s.mu.Unlock()
}

// State is the latest state.
func (s *Submission) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[len(s.history)-1]
}

// History lists every state entered, starting with idle.
func (s *Submission) History() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.history...)
}

// Result is what a submit or edit produced.
type Result struct {
	Report model.Report `json:"report"`
	// Dropped names files beyond the image cap. They were never uploaded.
	Dropped []string `json:"dropped"`
	// UploadErr is set when the row was saved but some images did not upload.
	UploadErr  error       `json:"-"`
	Submission *Submission `json:"-"`
}

// Submitter runs the submit and edit flows. Store and Geocoder are optional.
type Submitter struct {
	DB       *gorm.DB
	Store    storage.Store
	Geocoder Geocoder
	Limits   Limits
	Now      func() time.Time
}

func (s *Submitter) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Submitter) fail(sub *Submission, err error) error {
	sub.set(StateError)
	return err
}

// prepareImages validates files and refuses image-bearing requests without a store.
func (s *Submitter) prepareImages(images []Image, limits Limits) ([]Image, []string, error) {
	accepted, dropped, err := SelectImages(images, limits)
	if err != nil {
		return nil, dropped, err
	}
	if len(accepted) > 0 && s.Store == nil {
		return nil, dropped, ErrStorageUnavailable
	}
	return accepted, dropped, nil
}

// locate fills place when it is empty and coordinates are known. Failures are ignored.
func (s *Submitter) locate(ctx context.Context, sub *Submission, lat, lng *float64, place string) string {
	if lat == nil || lng == nil {
		return place
	}
	sub.set(StateLocating)
	if place != "" || s.Geocoder == nil || !geocode.ValidCoordinates(*lat, *lng) {
		return place
	}
	lctx, cancel := context.WithTimeout(ctx, geocode.DefaultTimeout)
	defer cancel()
	name, err := s.Geocoder.Reverse(lctx, *lat, *lng)
	if err != nil {
		log.Printf("[Report] reverse geocode skipped: %v", err)
		return place
	}
	return name
}

// SubmitVehicle validates in, stores a new pending vehicle alert owned by owner and
// uploads its images.
func (s *Submitter) SubmitVehicle(ctx context.Context, owner model.Profile, in VehicleInput, images []Image) (Result, error) {
	sub := newSubmission()
	res := Result{Submission: sub}

	sub.set(StateValidating)
	if err := in.Validate(); err != nil {
		return res, s.fail(sub, err)
	}
	accepted, dropped, err := s.prepareImages(images, s.Limits)
	res.Dropped = dropped
	if err != nil {
		return res, s.fail(sub, err)
	}

	place := s.locate(ctx, sub, in.Latitude, in.Longitude, in.LastSeenLocation)

	alert := &model.VehicleAlert{
		LicensePlate:     in.LicensePlate,
		Make:             in.Make,
		Model:            in.Model,
		Color:            in.Color,
		Year:             in.Year,
		Reason:           in.Reason,
		LastSeenLocation: place,
		LastSeenTime:     in.LastSeenTime,
		Latitude:         in.Latitude,
		Longitude:        in.Longitude,
		Severity:         model.Severity(in.Severity),
		Status:           model.StatusPending,
		ReportedBy:       owner.ID,
		CompanyID:        owner.CompanyID,
		HasImages:        len(accepted) > 0,
		EvidenceImages:   datatypes.JSONSlice[string]{},
		OBNumber:         OBNumber(s.now()),
	}
	res.Report = model.VehicleReport(alert)

	uploadErr, err := s.insertAndUpload(ctx, sub, alert, &alert.ID, &alert.EvidenceImages, storage.BucketVehicleEvidence, accepted)
	if err != nil {
		return res, s.fail(sub, err)
	}
	res.UploadErr = uploadErr
	s.finish(sub, uploadErr)
	return res, nil
}

// SubmitCrime validates in, stores a new pending crime report owned by owner and
// uploads its images.
func (s *Submitter) SubmitCrime(ctx context.Context, owner model.Profile, in CrimeInput, images []Image) (Result, error) {
	sub := newSubmission()
	res := Result{Submission: sub}

	sub.set(StateValidating)
	if err := in.Validate(); err != nil {
		return res, s.fail(sub, err)
	}
	accepted, dropped, err := s.prepareImages(images, s.Limits)
	res.Dropped = dropped
	if err != nil {
		return res, s.fail(sub, err)
	}

	place := s.locate(ctx, sub, in.Latitude, in.Longitude, in.Location)

	crime := &model.CrimeReport{
		Title:          in.Title,
		Description:    in.Description,
		Location:       place,
		IncidentTime:   in.IncidentTime,
		Latitude:       in.Latitude,
		Longitude:      in.Longitude,
		ReportType:     model.CrimeType(in.ReportType),
		Severity:       model.Severity(in.Severity),
		Status:         model.StatusPending,
		WitnessInfo:    in.WitnessInfo,
		ContactAllowed: in.ContactAllowed,
		ReportedBy:     owner.ID,
		CompanyID:      owner.CompanyID,
		HasImages:      len(accepted) > 0,
		EvidenceImages: datatypes.JSONSlice[string]{},
		OBNumber:       OBNumber(s.now()),
	}
	res.Report = model.CrimeReportOf(crime)

	uploadErr, err := s.insertAndUpload(ctx, sub, crime, &crime.ID, &crime.EvidenceImages, storage.BucketReportImages, accepted)
	if err != nil {
		return res, s.fail(sub, err)
	}
	res.UploadErr = uploadErr
	s.finish(sub, uploadErr)
	return res, nil
}

// insertAndUpload inserts row, then uploads images under its id and writes the URLs back.
// The row needs an id before any key can be built, so with images the insert happens
// while uploading. uploadErr reports images that did not make it; err means the row
// itself could not be written.
func (s *Submitter) insertAndUpload(ctx context.Context, sub *Submission, row interface{}, id *uint, urls *datatypes.JSONSlice[string], bucket storage.Bucket, images []Image) (uploadErr, err error) {
	db := s.DB.WithContext(ctx)
	if len(images) == 0 {
		sub.set(StateSubmitting)
		if err := db.Create(row).Error; err != nil {
			return nil, fmt.Errorf("failed to save report: %w", err)
		}
		return nil, nil
	}

	sub.set(StateUploading)
	if err := db.Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}
	uploaded, uploadErr := UploadImages(ctx, s.Store, bucket, *id, images)

	sub.set(StateSubmitting)
	*urls = datatypes.JSONSlice[string](uploaded)
	if err := db.Model(row).Update("evidence_images", *urls).Error; err != nil {
		return uploadErr, fmt.Errorf("failed to save image list: %w", err)
	}
	return uploadErr, nil
}

func (s *Submitter) finish(sub *Submission, uploadErr error) {
	if uploadErr != nil {
		log.Printf("[Report] saved with partial image upload: %v", uploadErr)
		sub.set(StateError)
		return
	}
	sub.set(StateSuccess)
}

// EditOptions lists image changes for an edit.
type EditOptions struct {
	RemoveImages []string
	NewImages    []Image
}

// editLimits leaves room for the images that survive the edit.
func (s *Submitter) editLimits(existing, removed []string) Limits {
	l := s.Limits.withDefaults()
	survivors := len(existing) - len(removedPresent(existing, removed))
	l.MaxImages -= survivors
	if l.MaxImages < 0 {
		l.MaxImages = 0
	}
	return l
}

func (s *Submitter) prepareEditImages(existing []string, opts EditOptions) ([]Image, []string, error) {
	l := s.editLimits(existing, opts.RemoveImages)
	if l.MaxImages == 0 {
		var dropped []string
		for _, img := range opts.NewImages {
			dropped = append(dropped, img.Name)
		}
		return nil, dropped, nil
	}
	return s.prepareImages(opts.NewImages, l)
}

// UpdateVehicle applies in and the image changes to alert. Survivors keep their order
// and new uploads follow them.
func (s *Submitter) UpdateVehicle(ctx context.Context, alert *model.VehicleAlert, in VehicleInput, opts EditOptions) (Result, error) {
	sub := newSubmission()
	res := Result{Submission: sub, Report: model.VehicleReport(alert)}

	sub.set(StateValidating)
	if err := in.Validate(); err != nil {
		return res, s.fail(sub, err)
	}
	accepted, dropped, err := s.prepareEditImages(alert.EvidenceImages, opts)
	res.Dropped = dropped
	if err != nil {
		return res, s.fail(sub, err)
	}

	place := s.locate(ctx, sub, in.Latitude, in.Longitude, in.LastSeenLocation)

	added, uploadErr := s.uploadForEdit(ctx, sub, storage.BucketVehicleEvidence, alert.ID, accepted)
	removed := removedPresent(alert.EvidenceImages, opts.RemoveImages)
	final := ReconcileImages(alert.EvidenceImages, removed, added)

	sub.set(StateSubmitting)
	alert.LicensePlate = in.LicensePlate
	alert.Make = in.Make
	alert.Model = in.Model
	alert.Color = in.Color
	alert.Year = in.Year
	alert.Reason = in.Reason
	alert.LastSeenLocation = place
	alert.LastSeenTime = in.LastSeenTime
	alert.Latitude = in.Latitude
	alert.Longitude = in.Longitude
	alert.Severity = model.Severity(in.Severity)
	alert.EvidenceImages = datatypes.JSONSlice[string](final)
	alert.HasImages = len(final) > 0 || len(accepted) > 0
	alert.OBNumber = OBNumber(s.now())
	if err := s.DB.WithContext(ctx).Save(alert).Error; err != nil {
		return res, s.fail(sub, fmt.Errorf("failed to save report: %w", err))
	}

	s.deleteObjects(ctx, removed)
	res.UploadErr = uploadErr
	s.finish(sub, uploadErr)
	return res, nil
}

// UpdateCrime applies in and the image changes to crime.
func (s *Submitter) UpdateCrime(ctx context.Context, crime *model.CrimeReport, in CrimeInput, opts EditOptions) (Result, error) {
	sub := newSubmission()
	res := Result{Submission: sub, Report: model.CrimeReportOf(crime)}

	sub.set(StateValidating)
	if err := in.Validate(); err != nil {
		return res, s.fail(sub, err)
	}
	accepted, dropped, err := s.prepareEditImages(crime.EvidenceImages, opts)
	res.Dropped = dropped
	if err != nil {
		return res, s.fail(sub, err)
	}

	place := s.locate(ctx, sub, in.Latitude, in.Longitude, in.Location)

	added, uploadErr := s.uploadForEdit(ctx, sub, storage.BucketReportImages, crime.ID, accepted)
	removed := removedPresent(crime.EvidenceImages, opts.RemoveImages)
	final := ReconcileImages(crime.EvidenceImages, removed, added)

	sub.set(StateSubmitting)
	crime.Title = in.Title
	crime.Description = in.Description
	crime.Location = place
	crime.IncidentTime = in.IncidentTime
	crime.Latitude = in.Latitude
	crime.Longitude = in.Longitude
	crime.ReportType = model.CrimeType(in.ReportType)
	crime.Severity = model.Severity(in.Severity)
	crime.WitnessInfo = in.WitnessInfo
	crime.ContactAllowed = in.ContactAllowed
	crime.EvidenceImages = datatypes.JSONSlice[string](final)
	crime.HasImages = len(final) > 0 || len(accepted) > 0
	crime.OBNumber = OBNumber(s.now())
	if err := s.DB.WithContext(ctx).Save(crime).Error; err != nil {
		return res, s.fail(sub, fmt.Errorf("failed to save report: %w", err))
	}

	s.deleteObjects(ctx, removed)
	res.UploadErr = uploadErr
	s.finish(sub, uploadErr)
	return res, nil
}

func (s *Submitter) uploadForEdit(ctx context.Context, sub *Submission, bucket storage.Bucket, id uint, images []Image) ([]string, error) {
	if len(images) == 0 {
		return []string{}, nil
	}
	sub.set(StateUploading)
	return UploadImages(ctx, s.Store, bucket, id, images)
}

// deleteObjects removes stored images best-effort.
func (s *Submitter) deleteObjects(ctx context.Context, urls []string) {
	if s.Store == nil {
		return
	}
	for _, u := range urls {
		if err := s.Store.Delete(ctx, u); err != nil && !errors.Is(err, storage.ErrForeignURL) {
			log.Printf("[Report] failed to delete image %s: %v", u, err)
		}
	}
}

// DeleteImages removes every stored image of a report best-effort. Used when a report is deleted.
func (s *Submitter) DeleteImages(ctx context.Context, r model.Report) error {
	switch r.Kind {
	case model.KindVehicle:
		if r.Vehicle == nil {
			return model.ErrUnknownReportKind
		}
		s.deleteObjects(ctx, r.Vehicle.EvidenceImages)
	case model.KindCrime:
		if r.Crime == nil {
			return model.ErrUnknownReportKind
		}
		s.deleteObjects(ctx, r.Crime.EvidenceImages)
	default:
		return model.ErrUnknownReportKind
	}
	return nil
}
