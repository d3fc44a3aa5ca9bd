package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/faunavision/faunavision-go/internal/errors"
	"github.com/faunavision/faunavision-go/internal/logger"
	"github.com/faunavision/faunavision-go/internal/model"
	"github.com/faunavision/faunavision-go/internal/validation"
)

// SubjectView is a subject as returned by the API.
type SubjectView struct {
	model.Subject
	CanSubmit bool `json:"can_submit"`
}

// CollectionView is the body of GET /subjects.
type CollectionView struct {
	Version    uint64        `json:"version"`
	Onboarding bool          `json:"onboarding"`
	Subjects   []SubjectView `json:"subjects"`
}

// ParametersRequest is a partial update; absent fields are left unchanged.
type ParametersRequest struct {
	Species          *string `json:"species"`
	Age              *string `json:"age"`
	Diet             *string `json:"diet"`
	HealthConditions *string `json:"health_conditions"`
}

func (r ParametersRequest) updates() map[model.Field]string {
	out := make(map[model.Field]string, len(model.ParameterFields))
	for field, v := range map[model.Field]*string{
		model.FieldSpecies:          r.Species,
		model.FieldAge:              r.Age,
		model.FieldDiet:             r.Diet,
		model.FieldHealthConditions: r.HealthConditions,
	} {
		if v != nil {
			out[field] = *v
		}
	}
	return out
}

func viewOf(s model.Subject) SubjectView {
	return SubjectView{Subject: s, CanSubmit: validation.CanSubmit(&s)}
}

func (s *Server) collectionView() CollectionView {
	snap := s.orch.Snapshot()
	out := CollectionView{
		Version:    snap.Version,
		Onboarding: snap.Onboarding,
		Subjects:   make([]SubjectView, 0, len(snap.Subjects)),
	}
	for _, subj := range snap.Subjects {
		out.Subjects = append(out.Subjects, viewOf(subj))
	}
	return out
}

func (s *Server) listSubjects(c echo.Context) error {
	return c.JSON(http.StatusOK, s.collectionView())
}

func (s *Server) createSubject(c echo.Context) error {
	subj := s.orch.AddSubject()
	c.Response().Header().Set(echo.HeaderLocation, "/api/v1/subjects/"+strconv.Itoa(subj.ID))
	return c.JSON(http.StatusCreated, viewOf(subj))
}

func (s *Server) getSubject(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return s.fail(c, err)
	}
	subj, err := s.orch.Subject(id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(subj))
}

func (s *Server) deleteSubject(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return s.fail(c, err)
	}
	if !s.removeSubject(id) {
		return s.fail(c, notFound(id))
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) updateParameters(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return s.fail(c, err)
	}

	var req ParametersRequest
	if err := c.Bind(&req); err != nil {
		return s.fail(c, errors.New(err).
			Component("api").
			Category(errors.CategoryValidation).
			Build())
	}

	// fields are applied in a fixed order so a failure is deterministic
	updates := req.updates()
	for _, field := range model.ParameterFields {
		value, ok := updates[field]
		if !ok {
			continue
		}
		if err := s.orch.SetParameter(id, field, value); err != nil {
			return s.fail(c, err)
		}
	}

	subj, err := s.orch.Subject(id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(subj))
}

func (s *Server) analyze(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.orch.Submit(id); err != nil {
		return s.fail(c, err)
	}

	subj, err := s.orch.Subject(id)
	if err != nil {
		return s.fail(c, err)
	}
	s.log.Debug("analysis accepted", logger.Int("subject_id", id))
	return c.JSON(http.StatusAccepted, viewOf(subj))
}

func (s *Server) cancel(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.orch.Cancel(id); err != nil {
		return s.fail(c, err)
	}

	subj, err := s.orch.Subject(id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(subj))
}

func subjectID(c echo.Context) (int, error) {
	raw := c.Param("id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errors.Newf("invalid subject id %q", raw).
			Component("api").
			Category(errors.CategoryNotFound).
			Build()
	}
	return id, nil
}

func notFound(id int) error {
	return errors.Newf("subject %d not found", id).
		Component("api").
		Category(errors.CategoryNotFound).
		Context("subject_id", id).
		Build()
}
