// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateIDRoundTrip(t *testing.T) {
	ctx := ContextWithUpdateID(context.Background(), "upd-123")
	assert.Equal(t, "upd-123", UpdateIDFromContext(ctx))
}

func TestUpdateIDAbsent(t *testing.T) {
	assert.Equal(t, "", UpdateIDFromContext(context.Background()))
	assert.Equal(t, "", UpdateIDFromContext(nil)) //nolint:staticcheck // nil ctx tolerated on purpose
}

func TestWithComponentFromContextCarriesCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	attached := zerolog.New(&buf)
	ctx := attached.WithContext(context.Background())
	ctx = ContextWithUpdateID(ctx, "upd-9")

	logger := WithComponentFromContext(ctx, "gateway")
	logger.Info().Msg("turn handled")

	out := buf.String()
	assert.Contains(t, out, `"component":"gateway"`)
	assert.Contains(t, out, `"update_id":"upd-9"`)
}

func TestFromContextFallsBackToBase(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)
	assert.NotEqual(t, zerolog.Disabled, l.GetLevel())
}
