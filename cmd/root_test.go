package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadTasks_PositionalArgsBecomeTasks(t *testing.T) {
	tasksFile = ""
	tasks, err := loadTasks([]string{"fix the bug", "write a test"})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "fix the bug", tasks[0].Prompt)
	require.Equal(t, "task-1", tasks[0].ID)
	require.Equal(t, "task-2", tasks[1].ID)
}

func TestLoadTasks_NoTasksIsError(t *testing.T) {
	tasksFile = ""
	_, err := loadTasks(nil)
	require.Error(t, err)
}

func TestLoadTasks_TasksFileParsedWithDependencies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	contents := `
- name: setup
  prompt: scaffold the project
- name: implement
  prompt: add the feature
  needs: [setup]
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	tasksFile = path
	t.Cleanup(func() { tasksFile = "" })

	tasks, err := loadTasks(nil)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "setup", tasks[0].ID)
	require.Equal(t, "implement", tasks[1].ID)
	_, needsSetup := tasks[1].Dependencies["setup"]
	require.True(t, needsSetup)
}

func TestLoadTasks_FileAndArgsCombine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- prompt: from file\n"), 0o644))

	tasksFile = path
	t.Cleanup(func() { tasksFile = "" })

	tasks, err := loadTasks([]string{"from args"})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "from file", tasks[0].Prompt)
	require.Equal(t, "from args", tasks[1].Prompt)
}
