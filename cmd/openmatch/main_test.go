package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ns-3e/OpenMatch/pkg/models"
)

func TestClassify_NilIsOK(t *testing.T) {
	assert.Equal(t, exitOK, classify(nil))
}

func TestClassify_ConfigError(t *testing.T) {
	err := wrapConfigErr(errors.New("bad dsn"))
	assert.Equal(t, exitConfigError, classify(err))
}

func TestClassify_WrappedConfigError(t *testing.T) {
	err := wrapConfigErr(errors.New("bad dsn"))
	wrapped := errors.Join(errors.New("bootstrap failed"), err)
	assert.Equal(t, exitConfigError, classify(wrapped))
}

func TestClassify_Cancellation(t *testing.T) {
	assert.Equal(t, exitCancellation, classify(context.Canceled))
}

func TestClassify_DataErrorIsDefault(t *testing.T) {
	assert.Equal(t, exitDataError, classify(errors.New("constraint violation")))
}

func TestNormalize_LowersAndTrimsStringAttributes(t *testing.T) {
	records := []*models.Record{
		{RecordID: "r1", Attributes: map[string]any{"name": "  ACME   Corp ", "count": 3}},
	}

	normalize(records)

	assert.Equal(t, "acme corp", records[0].Attributes["name"])
	assert.Equal(t, 3, records[0].Attributes["count"])
}
