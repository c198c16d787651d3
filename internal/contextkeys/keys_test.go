package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawBody(t *testing.T) {
	_, ok := RawBody(context.Background())
	assert.False(t, ok)

	ctx := WithRawBody(context.Background(), []byte(`{"id":1}`))
	body, ok := RawBody(ctx)
	assert.True(t, ok)
	assert.Equal(t, `{"id":1}`, string(body))
}
