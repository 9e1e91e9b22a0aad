package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureCorrelationID(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, ExtractCorrelationID(ctx))

	// An existing id is preserved.
	ctx2, id2 := EnsureCorrelationID(ctx)
	assert.Equal(t, id, id2)
	assert.Equal(t, id, ExtractCorrelationID(ctx2))
}

func TestExtractCorrelationID_Empty(t *testing.T) {
	assert.Empty(t, ExtractCorrelationID(context.Background()))
	assert.Empty(t, ExtractCorrelationID(nil))
}

func TestContextWithCorrelationID_EmptyID(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "")
	assert.Empty(t, ExtractCorrelationID(ctx))
}
