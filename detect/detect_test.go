package detect

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/nawedy/Lena-Social-Ecosystem-sub004/errors"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/logging"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestAbsenceIsNeverAConflict(t *testing.T) {
	d := New()
	var typedNil *record.Post
	samples := map[record.Type]record.Payload{
		record.TypePost:    &record.Post{Text: "a"},
		record.TypeMessage: &record.Message{Text: "a"},
		record.TypeProfile: &record.Profile{DisplayName: "a"},
		record.TypeMedia:   &record.Media{MimeType: "image/png"},
	}

	for typ, p := range samples {
		t.Run(string(typ), func(t *testing.T) {
			assert.False(t, d.DetectConflict(nil, p, typ))
			assert.False(t, d.DetectConflict(p, nil, typ))
			assert.False(t, d.DetectConflict(nil, nil, typ))
			assert.Equal(t, NoConflict, d.Detect(p, nil, typ).Outcome)
		})
	}
	assert.False(t, d.DetectConflict(typedNil, &record.Post{Text: "x"}, record.TypePost))
}

func TestPostTolerance(t *testing.T) {
	d := New()
	local := &record.Post{Text: "hello", Media: []string{"m1"}, CreatedAt: t0, EditedAt: t0.Add(900 * time.Millisecond)}
	remote := &record.Post{Text: "hello", Media: []string{"m9"}, CreatedAt: t0, EditedAt: t0}

	assert.False(t, d.DetectConflict(local, remote, record.TypePost), "within tolerance")

	local.EditedAt = t0.Add(1500 * time.Millisecond)
	res := d.Detect(local, remote, record.TypePost)
	assert.Equal(t, Conflict, res.Outcome)
	assert.Equal(t, []string{"editedAt"}, res.ChangedFields)

	// Exactly at the tolerance boundary is not divergence.
	local.EditedAt = t0.Add(time.Second)
	assert.False(t, d.DetectConflict(local, remote, record.TypePost))
}

func TestPostFallsBackToCreatedAt(t *testing.T) {
	d := New(WithTimestampTolerance(10 * time.Millisecond))
	local := &record.Post{Text: "a", CreatedAt: t0}
	remote := &record.Post{Text: "a", CreatedAt: t0.Add(time.Second)}
	assert.True(t, d.DetectConflict(local, remote, record.TypePost))

	remote.CreatedAt = t0.Add(5 * time.Millisecond)
	assert.False(t, d.DetectConflict(local, remote, record.TypePost))
}

func TestPostTextAndMediaCount(t *testing.T) {
	d := New()
	base := record.Post{Text: "a", Media: []string{"x"}, CreatedAt: t0}

	textChanged := base
	textChanged.Text = "b"
	res := d.Detect(&base, &textChanged, record.TypePost)
	assert.Equal(t, []string{"text"}, res.ChangedFields)

	mediaChanged := base
	mediaChanged.Media = []string{"x", "y"}
	res = d.Detect(&base, &mediaChanged, record.TypePost)
	assert.Equal(t, []string{"media"}, res.ChangedFields)
}

func TestMessageRules(t *testing.T) {
	d := New()
	local := &record.Message{Text: "hi", Status: record.StatusSent, Attachments: []string{"a"}}

	same := *local
	assert.False(t, d.DetectConflict(local, &same, record.TypeMessage))

	status := *local
	status.Status = record.StatusDelivered
	assert.True(t, d.DetectConflict(local, &status, record.TypeMessage))

	att := *local
	att.Attachments = nil
	assert.Equal(t, []string{"attachments"}, d.Detect(local, &att, record.TypeMessage).ChangedFields)
}

func TestProfileRules(t *testing.T) {
	d := New()
	local := &record.Profile{DisplayName: "Alice", Description: "d", Avatar: "a.png", Followers: []string{"x"}}
	remote := &record.Profile{DisplayName: "Alice", Description: "d", Avatar: "a.png"}

	assert.False(t, d.DetectConflict(local, remote, record.TypeProfile), "followers are not tracked fields")

	remote.Avatar = "b.png"
	remote.DisplayName = "Alicia"
	res := d.Detect(local, remote, record.TypeProfile)
	assert.Equal(t, []string{"displayName", "avatar"}, res.ChangedFields)
}

func TestMediaHashIsAuthoritative(t *testing.T) {
	d := New()
	local := &record.Media{MimeType: "image/png", Size: 10, Hash: "abc"}
	remote := &record.Media{MimeType: "image/jpeg", Size: 99, Hash: "abc"}
	assert.False(t, d.DetectConflict(local, remote, record.TypeMedia), "equal hashes win over other fields")

	remote = &record.Media{MimeType: "image/png", Size: 10, Hash: "def"}
	assert.True(t, d.DetectConflict(local, remote, record.TypeMedia), "unequal hashes conflict")

	// Missing hash on one side falls back to MIME type and size.
	remote = &record.Media{MimeType: "image/png", Size: 10}
	assert.False(t, d.DetectConflict(local, remote, record.TypeMedia))
	remote.Size = 11
	assert.Equal(t, []string{"size"}, d.Detect(local, remote, record.TypeMedia).ChangedFields)
}

func TestMalformedInputFailsOpen(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLoggerWithWriter(&buf, logging.Config{Level: "debug", Format: "text"})
	d := New(WithLogger(logger))

	res := d.Detect(&record.Post{Text: "a"}, &record.Message{Text: "b"}, record.TypePost)
	require.Equal(t, DetectionError, res.Outcome)
	assert.True(t, syncErrors.HasCode(res.Err, syncErrors.ErrCodeDetectionFailure))

	assert.False(t, d.DetectConflict(&record.Post{Text: "a"}, &record.Message{Text: "b"}, record.TypePost))
	assert.Contains(t, buf.String(), "conflict detection failed")

	res = d.Detect(&record.Post{}, &record.Post{}, record.Type("invoice"))
	assert.Equal(t, DetectionError, res.Outcome)
}

func TestDetectJSON(t *testing.T) {
	d := New()

	res := d.DetectJSON([]byte(`{"displayName":"Alice"}`), []byte(`{"displayName":"Alicia"}`), record.TypeProfile)
	assert.Equal(t, Conflict, res.Outcome)

	res = d.DetectJSON([]byte(`{"displayName":`), []byte(`{}`), record.TypeProfile)
	assert.Equal(t, DetectionError, res.Outcome)

	res = d.DetectJSON(nil, []byte(`{"displayName":"Alicia"}`), record.TypeProfile)
	assert.Equal(t, NoConflict, res.Outcome)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "conflict", Conflict.String())
	assert.Equal(t, "detection_error", DetectionError.String())
	assert.Equal(t, "no_conflict", NoConflict.String())
}
