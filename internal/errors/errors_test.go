package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSentinel = stderrors.New("sentinel")

func TestWrapKeepsCodeAndChain(t *testing.T) {
	base := ConfigInvalid("split.test_size out of range", errSentinel)
	wrapped := Wrap(base, "configuration validation failed")

	assert.Equal(t, CodeConfigInvalid, GetCode(wrapped))
	assert.ErrorIs(t, wrapped, errSentinel)
	assert.Contains(t, wrapped.Error(), "split.test_size")
}

func TestWrapPlainError(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))
	wrapped := Wrapf(errSentinel, "reading %s", "crf.xlsx")
	assert.Equal(t, CodeInternalError, GetCode(wrapped))
	assert.Equal(t, "reading crf.xlsx: sentinel", wrapped.Error())
}

func TestWithCode(t *testing.T) {
	err := WithCode(CodeDatabaseError, errSentinel)
	assert.Equal(t, CodeDatabaseError, GetCode(err))
	assert.Equal(t, "UNKNOWN", GetCode(errSentinel))
}

func TestExternalServiceError(t *testing.T) {
	err := ExternalServiceError("report writer", errSentinel)
	assert.Equal(t, CodeExternalService, GetCode(err))
	assert.ErrorIs(t, err, errSentinel)
	assert.Equal(t, "report writer service error: sentinel", err.Error())
}
