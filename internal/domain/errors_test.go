package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"read timeout", ErrReadTimeout, FailureTransient},
		{"wrapped read timeout", fmt.Errorf("scanner: vault 7: %w", ErrReadTimeout), FailureTransient},
		{"contract revert", ErrContractReverted, FailureTerminal},
		{"wrapped revert", fmt.Errorf("chain: bark: %w", ErrContractReverted), FailureTerminal},
		{"unsupported collateral", ErrUnsupportedCollateral, FailureTerminal},
		{"confirm timeout", ErrConfirmTimeout, FailureUnknown},
		{"arbitrary error", errors.New("boom"), FailureUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
