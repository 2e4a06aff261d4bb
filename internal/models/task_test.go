package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskUpdateValidateDisplayOrder(t *testing.T) {
	good := DisplayOrder("2.25")
	require.NoError(t, TaskUpdate{DisplayOrder: &good}.Validate())

	for _, key := range []DisplayOrder{"1e999999", "0x10", "1_000", "", "1.", DisplayOrder(strings.Repeat("9", MaxDisplayOrderLength+1))} {
		k := key
		require.ErrorIs(t, TaskUpdate{DisplayOrder: &k}.Validate(), ErrValidation, "key %q", key)
	}
}

func TestScopeCanRead(t *testing.T) {
	require.False(t, Scope{}.CanRead())
	require.True(t, Scope{TenantID: "t1"}.CanRead())
	require.True(t, Scope{SuperAdmin: true}.CanRead())
}

func TestLabels(t *testing.T) {
	require.Equal(t, "In progress", TaskStatusDoing.Label())
	require.Equal(t, "Urgent", TaskPriorityUrgent.Label())
	require.Equal(t, "archived", TaskStatus("archived").Label())
	require.False(t, TaskPriority("critical").Valid())
}
