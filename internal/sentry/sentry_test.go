package sentry

import (
	"context"
	"errors"
	"testing"

	"github.com/branchdesk/sequencer/internal/config"
	"github.com/branchdesk/sequencer/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestDisabledServiceIsNoop(t *testing.T) {
	svc := NewSentryService(config.GetDefaultConfig(), logger.NewNopLogger())
	assert.False(t, svc.Enabled())
	assert.NoError(t, svc.Init())

	ctx := context.Background()
	span, spanCtx := svc.StartDBSpan(ctx, "sequence.allocate", map[string]interface{}{"key": "BR01/2024"})
	assert.Nil(t, span)
	assert.Equal(t, ctx, spanCtx)
	FinishSpan(span)

	assert.NotPanics(t, func() {
		svc.CaptureException(errors.New("boom"))
		svc.CaptureWithTags(errors.New("boom"), map[string]string{"key": "BR01/2024"})
		svc.AddBreadcrumb("sequence", "allocated", nil)
	})
}

func TestNilServiceIsDisabled(t *testing.T) {
	var svc *Service
	assert.False(t, svc.Enabled())
}
