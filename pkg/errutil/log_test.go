// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package errutil_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func TestCode(t *testing.T) {
	t.Run("returns the code of a coded error", func(t *testing.T) {
		err := oops.Code("WIDGET_BROKEN").Errorf("widget broke")
		assert.Equal(t, "WIDGET_BROKEN", errutil.Code(err))
	})

	t.Run("returns empty for a plain error", func(t *testing.T) {
		assert.Equal(t, "", errutil.Code(errors.New("widget broke")))
	})

	t.Run("returns empty for nil", func(t *testing.T) {
		assert.Equal(t, "", errutil.Code(nil))
	})

	t.Run("reports the deepest code in a wrapped chain", func(t *testing.T) {
		inner := oops.Code("INNER_BROKEN").Errorf("widget broke")
		err := oops.Code("OUTER_BROKEN").Wrap(inner)
		assert.Equal(t, "INNER_BROKEN", errutil.Code(err))
	})

	t.Run("uncoded wrap keeps the wrapped code", func(t *testing.T) {
		inner := oops.Code("INNER_BROKEN").Errorf("widget broke")
		err := oops.With("operation", "frobnicate").Wrap(inner)
		assert.Equal(t, "INNER_BROKEN", errutil.Code(err))
	})
}

func TestLogError(t *testing.T) {
	t.Run("logs code and context of an oops error", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))

		err := oops.Code("WIDGET_BROKEN").With("widget_id", "w1").Errorf("widget broke")
		errutil.LogError(logger, "operation failed", err)

		out := buf.String()
		assert.Contains(t, out, "operation failed")
		assert.Contains(t, out, "WIDGET_BROKEN")
		assert.Contains(t, out, "widget_id")
	})

	t.Run("logs a plain error", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewJSONHandler(&buf, nil))

		errutil.LogError(logger, "operation failed", errors.New("widget broke"))

		assert.Contains(t, buf.String(), "widget broke")
	})
}
