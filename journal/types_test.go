package journal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledEvents(t *testing.T) {
	req := require.New(t)

	test := func(dis DisabledEvents) func(*testing.T) {
		return func(t *testing.T) {
			registry := NewEventTypeRegistry(dis)

			reg1 := registry.RegisterEventType("system1", "disabled1")
			reg2 := registry.RegisterEventType("system1", "disabled2")

			req.False(reg1.Enabled())
			req.False(reg2.Enabled())
			req.True(reg1.safe)
			req.True(reg2.safe)

			reg3 := registry.RegisterEventType("system3", "enabled3")
			req.True(reg3.Enabled())
			req.True(reg3.safe)
		}
	}

	t.Run("direct", test(DisabledEvents{
		EventType{System: "system1", Event: "disabled1"},
		EventType{System: "system1", Event: "disabled2"},
	}))

	dis, err := ParseDisabledEvents("system1:disabled1,system1:disabled2")
	req.NoError(err)
	t.Run("parsed", test(dis))

	dis, err = ParseDisabledEvents("  system1:disabled1 , system1:disabled2  ")
	req.NoError(err)
	t.Run("parsed with spaces", test(dis))
}

func TestParseDisabledEvents(t *testing.T) {
	dis, err := ParseDisabledEvents("")
	require.NoError(t, err)
	require.Len(t, dis, 0)

	_, err = ParseDisabledEvents("system1:disabled1:extra")
	require.Error(t, err)

	_, err = ParseDisabledEvents("nocolon")
	require.Error(t, err)
}

func TestMemJournalRecordsEnabledOnly(t *testing.T) {
	j := NewMemJournal(DisabledEvents{{System: "sys", Event: "off"}})
	defer j.Close() //nolint:errcheck

	on := j.RegisterEventType("sys", "on")
	off := j.RegisterEventType("sys", "off")

	j.RecordEvent(on, func() interface{} { return "recorded" })
	j.RecordEvent(off, func() interface{} {
		t.Fatal("supplier called for disabled event")
		return nil
	})

	evts := j.Events()
	require.Len(t, evts, 1)
	require.Equal(t, "recorded", evts[0].Data)
}
