package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_VisibilityTransitions(t *testing.T) {
	tr := NewTracker()
	var got []EventType
	cancel := tr.Subscribe(func(ev Event) { got = append(got, ev.Type) })

	assert.True(t, tr.IsVisible())
	tr.SetVisible(true) // 无变化，不广播
	tr.SetVisible(false)
	assert.False(t, tr.IsVisible())
	tr.SetVisible(true)
	tr.Focus()

	assert.Equal(t, []EventType{EventHidden, EventVisible, EventFocus}, got)

	cancel()
	tr.Focus()
	assert.Len(t, got, 3)
}
