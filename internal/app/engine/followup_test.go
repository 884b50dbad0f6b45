package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/internal/domain/task"
)

func TestParseFollowUpsFencedBlock(t *testing.T) {
	out := "Here is the draft.\n\n```json\n{\"followUps\": [{\"title\": \"Translate to French\", \"role\": \"translator\"}, {\"title\": \"Review\"}]}\n```\n"
	fus := ParseFollowUps(out)
	require.Len(t, fus, 2)
	assert.Equal(t, "Translate to French", fus[0].Title)
	assert.Equal(t, "translator", fus[0].Role)
	assert.Equal(t, "Review", fus[1].Title)
}

func TestParseFollowUpsBareAndRepaired(t *testing.T) {
	out := `Done. {"followUps": [{"id": "qa", "title": "QA pass", "acceptanceCriteria": {"minLength": 10}},]} trailing words`
	fus := ParseFollowUps(out)
	require.Len(t, fus, 1)
	assert.Equal(t, "qa", fus[0].ID)
	assert.Equal(t, map[string]any{"minLength": float64(10)}, fus[0].AcceptanceCriteria)
}

func TestParseFollowUpsNone(t *testing.T) {
	assert.Nil(t, ParseFollowUps("plain answer"))
	assert.Nil(t, ParseFollowUps("```json\n{\"other\": 1}\n```"))
	assert.Nil(t, ParseFollowUps(`{"followUps": []}`))
}

func TestFollowUpTasksDefaults(t *testing.T) {
	parent := task.Task{ID: "t1", Role: "worker"}
	tasks := followUpTasks(parent, "art-1", []FollowUp{
		{Title: "next"},
		{ID: "custom", Title: "other", Role: "editor", PayloadRef: "art-0"},
	})
	require.Len(t, tasks, 2)

	assert.Equal(t, "t1.f1", tasks[0].ID)
	assert.Equal(t, "worker", tasks[0].Role)
	assert.Equal(t, "art-1", tasks[0].PayloadRef)
	assert.Equal(t, "t1", tasks[0].ParentID)
	assert.Equal(t, task.OriginFollowUp, tasks[0].Origin)

	assert.Equal(t, "custom", tasks[1].ID)
	assert.Equal(t, "editor", tasks[1].Role)
	assert.Equal(t, "art-0", tasks[1].PayloadRef)
}
