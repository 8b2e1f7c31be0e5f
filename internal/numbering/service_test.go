package numbering

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFormatReturnsDefaultsWhenMissing(t *testing.T) {
	svc := newTestService(newMemoryRepo())

	format, err := svc.GetFormat(context.Background(), 4, 2)
	require.NoError(t, err)
	assert.Zero(t, format.ID)
	assert.Equal(t, DefaultFormat(4, 2), format)
}

func TestSaveFormatPreservesCounter(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Allocate(ctx, 1, 1)
		require.NoError(t, err)
	}

	saved, err := svc.SaveFormat(ctx, SaveFormatInput{
		BusinessUnitID:         1,
		SalesCategoryID:        1,
		UseYear:                true,
		UseSequentialNumber:    true,
		Separator:              "/",
		SequentialNumberLength: 6,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), saved.LastUsedSequentialNumber)

	next, err := svc.Allocate(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "25/000006", next.Formatted)
}

func TestSaveFormatRejectsMisconfiguration(t *testing.T) {
	svc := newTestService(newMemoryRepo())

	_, err := svc.SaveFormat(context.Background(), SaveFormatInput{BusinessUnitID: 1, SalesCategoryID: 1})
	assert.ErrorIs(t, err, ErrFormatMisconfigured)

	_, err = svc.SaveFormat(context.Background(), SaveFormatInput{UseYear: true})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestPreviewNextDoesNotConsume(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	preview, err := svc.PreviewNext(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, Number{Formatted: "25-DOM-001-0001", Sequential: 1}, preview)

	again, err := svc.PreviewNext(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, preview, again)

	allocated, err := svc.Allocate(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, preview, allocated)

	after, err := svc.PreviewNext(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), after.Sequential)
}
