// SPDX-FileCopyrightText: 2024 SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package ptr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/feedbackhub/rollup/pkg/utils/ptr"
)

func TestValue(t *testing.T) {
	disabled := false

	testCases := []struct {
		desc   string
		input  *bool
		def    bool
		wanted bool
	}{
		{
			desc:   "nil input falls back to default",
			input:  nil,
			def:    true,
			wanted: true,
		},
		{
			desc:   "set value wins over default",
			input:  &disabled,
			def:    true,
			wanted: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			require.Equal(t, tc.wanted, ptr.Value(tc.input, tc.def))
		})
	}
}

func TestTo(t *testing.T) {
	p := ptr.To(42)
	require.NotNil(t, p)
	require.Equal(t, 42, *p)

	*p = 7
	require.Equal(t, 7, ptr.Value(p, 0))
}
