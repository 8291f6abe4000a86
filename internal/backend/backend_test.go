package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacsync/pacsync/internal/errs"
	"github.com/pacsync/pacsync/internal/policy"
)

func TestSelectNoBackendAvailable(t *testing.T) {
	empty := Set{available: map[string]string{}}

	_, err := Select(empty, policy.CodecAAC, policy.Default())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNoBackend))
}

func TestSelectPrefersFirstAvailableInOrder(t *testing.T) {
	set := Set{available: map[string]string{
		"fdkaac": "/usr/bin/fdkaac",
		"qaac":   "/usr/bin/qaac64",
	}}

	selected, err := Select(set, policy.CodecAAC, policy.Default())
	require.NoError(t, err)
	assert.Equal(t, "qaac", selected.Candidate.ID)
}

func TestSelectHonoursExplicitPreference(t *testing.T) {
	set := Set{available: map[string]string{
		"fdkaac": "/usr/bin/fdkaac",
		"qaac":   "/usr/bin/qaac64",
	}}

	pol := policy.Default()
	pol.EncoderPreference = "fdkaac"

	selected, err := Select(set, policy.CodecAAC, pol)
	require.NoError(t, err)
	assert.Equal(t, "fdkaac", selected.Candidate.ID)
}

func TestSelectRejectsUnavailableExplicitPreference(t *testing.T) {
	set := Set{available: map[string]string{"qaac": "/usr/bin/qaac64"}}

	pol := policy.Default()
	pol.EncoderPreference = "fdkaac"

	_, err := Select(set, policy.CodecAAC, pol)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrNoBackend))
}
