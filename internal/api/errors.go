package api

import (
	"errors"

	"github.com/samcharles93/vvau/internal/activation"
	"github.com/samcharles93/vvau/internal/fold"
	"github.com/samcharles93/vvau/internal/job"
	"github.com/samcharles93/vvau/internal/testbench"
	"github.com/samcharles93/vvau/pkg/wstream"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// clientError reports errors caused by the submitted document rather than
// the server.
func clientError(err error) bool {
	for _, target := range []error{
		ErrInvalidRequest,
		job.ErrInvalidJob,
		fold.ErrInvalidConfig,
		fold.ErrTableShape,
		activation.ErrInvalidPolicy,
		testbench.ErrInvalidScenario,
		wstream.ErrLayoutMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
