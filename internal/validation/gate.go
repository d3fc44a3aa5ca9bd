// Package validation decides whether a subject may be submitted for
// analysis and whether a video may be attached. It is the only place these
// rules live; controllers and presentation layers ask it rather than
// re-deriving them.
package validation

import (
	"slices"
	"strings"

	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/model"
)

// MaxVideoSize is the largest accepted recording, 100 MiB.
const MaxVideoSize int64 = 100 * 1024 * 1024

const component = "validation"

// User-facing messages for each rejected precondition.
const (
	MsgMissingVideo   = "Please upload a video first"
	MsgMissingSpecies = "Please enter the animal species"
	MsgInvalidType    = "Please upload a valid video file (MP4, AVI, MOV, MKV)"
	MsgTooLarge       = "Video file is too large. Maximum size is 100MB."
)

var (
	acceptedExtensions = []string{"mp4", "avi", "mov", "mkv"}
	acceptedMimeTypes  = []string{
		"video/mp4",
		"video/avi",
		"video/mov",
		"video/mkv",
		"video/quicktime",
		"video/x-msvideo",
		"video/x-matroska",
	}
)

// CanSubmit reports whether s has a video attached and a non-blank species.
func CanSubmit(s *model.Subject) bool {
	return CheckSubmittable(s) == nil
}

// CheckSubmittable returns a validation error naming the first missing
// input, checking the video before the species, or nil.
func CheckSubmittable(s *model.Subject) error {
	if s == nil || s.Video == nil {
		return fieldError(model.FieldVideo, MsgMissingVideo)
	}
	if strings.TrimSpace(s.Parameters.Species) == "" {
		return fieldError(model.FieldSpecies, MsgMissingSpecies)
	}
	return nil
}

// ValidateVideo accepts a recording whose mime type or extension is a
// supported container and whose size is at most MaxVideoSize.
func ValidateVideo(v *model.VideoAttachment) error {
	if v == nil {
		return fieldError(model.FieldVideo, MsgMissingVideo)
	}

	if !acceptedType(v) {
		return errors.New(errors.NewStd(MsgInvalidType)).
			Component(component).
			Category(errors.CategoryValidation).
			Context("field", string(model.FieldVideo)).
			FileContext(v.Name, v.Size).
			Context("mime_type", v.MimeType).
			Build()
	}

	if v.Size < 0 || v.Size > MaxVideoSize {
		return errors.New(errors.NewStd(MsgTooLarge)).
			Component(component).
			Category(errors.CategoryValidation).
			Context("field", string(model.FieldVideo)).
			FileContext(v.Name, v.Size).
			Build()
	}

	return nil
}

func acceptedType(v *model.VideoAttachment) bool {
	mimeType := strings.ToLower(strings.TrimSpace(v.MimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return slices.Contains(acceptedMimeTypes, mimeType) ||
		slices.Contains(acceptedExtensions, v.Extension())
}

func fieldError(field model.Field, msg string) error {
	return errors.New(errors.NewStd(msg)).
		Component(component).
		Category(errors.CategoryValidation).
		Priority(errors.PriorityLow).
		Context("field", string(field)).
		Build()
}

// FieldOf returns the input named by a validation error, or "".
func FieldOf(err error) string {
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return ""
	}
	if v, ok := ee.ContextValue("field"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
