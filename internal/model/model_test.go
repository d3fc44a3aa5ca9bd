package model

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusText(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusIdle, StatusAnalyzing, StatusSucceeded, StatusFailed} {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var back Status
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	var s Status
	require.Error(t, s.UnmarshalText([]byte("pending")))
	assert.Equal(t, "unknown", Status(42).String())
}

func TestParseField(t *testing.T) {
	t.Parallel()

	f, ok := ParseField(" Health_Conditions ")
	require.True(t, ok)
	assert.Equal(t, FieldHealthConditions, f)

	_, ok = ParseField("video")
	assert.False(t, ok, "video is not an editable parameter")

	_, ok = ParseField("weight")
	assert.False(t, ok)
}

func TestParametersGetSet(t *testing.T) {
	t.Parallel()

	var p Parameters
	for _, f := range ParameterFields {
		require.True(t, p.Set(f, string(f)+"-value"))
		assert.Equal(t, string(f)+"-value", p.Get(f))
	}
	assert.False(t, p.Set(FieldVideo, "x"))
	assert.Empty(t, p.Get(FieldVideo))
}

func TestHealthVerdict(t *testing.T) {
	t.Parallel()

	yes, no := true, false
	assert.Equal(t, VerdictHealthy, (&AnalysisResult{IsHealthy: &yes}).HealthVerdict())
	assert.Equal(t, VerdictUnhealthy, (&AnalysisResult{IsHealthy: &no}).HealthVerdict())
	assert.Equal(t, VerdictUnknown, (&AnalysisResult{}).HealthVerdict())

	var nilResult *AnalysisResult
	assert.Equal(t, VerdictUnknown, nilResult.HealthVerdict())
}

func TestRecommendationItems(t *testing.T) {
	t.Parallel()

	r := &AnalysisResult{Recommendations: "Increase enrichment\n\n  Monitor feeding  \n"}
	assert.Equal(t, []string{"Increase enrichment", "Monitor feeding"}, r.RecommendationItems())
	assert.Empty(t, (&AnalysisResult{}).RecommendationItems())
}

func TestResultDecodesNullHealth(t *testing.T) {
	t.Parallel()

	var r AnalysisResult
	require.NoError(t, json.Unmarshal([]byte(`{"species":"Pig","is_healthy":null,"confidence":0.5}`), &r))
	assert.Nil(t, r.IsHealthy)
	assert.Equal(t, "Pig", r.Species)
	assert.InDelta(t, 0.5, r.Confidence, 1e-9)
}

func TestSubjectCloneIsDeep(t *testing.T) {
	t.Parallel()

	healthy := true
	s := NewSubject(7)
	s.Result = &AnalysisResult{Species: "Pig", IsHealthy: &healthy}
	s.LastError = &SubjectError{Kind: KindNetwork, Message: "down"}
	s.LastValidation = &SubjectError{Kind: KindValidation, Message: "no video", Field: "video"}

	c := s.Clone()
	c.LastValidation.Field = "species"
	*c.Result.IsHealthy = false
	c.Result.Species = "Cow"
	c.LastError.Message = "changed"

	assert.True(t, *s.Result.IsHealthy)
	assert.Equal(t, "Pig", s.Result.Species)
	assert.Equal(t, "down", s.LastError.Message)
	assert.Equal(t, "video", s.LastValidation.Field)
	assert.Equal(t, "Animal 7", s.DisplayName)
}

func TestResultClone(t *testing.T) {
	t.Parallel()

	var nilResult *AnalysisResult
	assert.Nil(t, nilResult.Clone())

	healthy := false
	r := &AnalysisResult{Species: "Goat", IsHealthy: &healthy}
	c := r.Clone()
	require.NotSame(t, r, c)
	require.NotSame(t, r.IsHealthy, c.IsHealthy)
	*c.IsHealthy = true
	assert.Equal(t, VerdictUnhealthy, r.HealthVerdict())
	assert.Equal(t, VerdictHealthy, c.HealthVerdict())

	unknown := (&AnalysisResult{Species: "Goat"}).Clone()
	assert.Nil(t, unknown.IsHealthy)
}

func TestFileAttachment(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "Clip.MOV")
	require.NoError(t, os.WriteFile(path, []byte("frames"), 0o600))

	v, err := NewFileAttachment(path)
	require.NoError(t, err)
	assert.Equal(t, "Clip.MOV", v.Name)
	assert.Equal(t, int64(6), v.Size)
	assert.Equal(t, "video/quicktime", v.MimeType)
	assert.Equal(t, "mov", v.Extension())

	rc, err := v.Open()
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))

	_, err = NewFileAttachment(filepath.Join(t.TempDir(), "missing.mp4"))
	require.Error(t, err)
}

func TestAttachmentJSONHidesContent(t *testing.T) {
	t.Parallel()

	v := NewBytesAttachment("a.mp4", "", []byte("data"))
	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a.mp4","size":4,"mime_type":"video/mp4"}`, string(out))
}
