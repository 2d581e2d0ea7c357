package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSamples(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "samples.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEngine_StdoutOutput(t *testing.T) {
	samples := writeSamples(t, "Nombre,Secuencia\nAna,ATCGATCG\nLuis,GGGGCCCC\n")

	for _, code := range []string{"KMP", "RK", "AC"} {
		t.Run(code, func(t *testing.T) {
			var stdout bytes.Buffer
			cmd := newRootCommand(&stdout)
			cmd.SetArgs([]string{samples, "atcg", code})
			require.NoError(t, cmd.Execute())

			var res result
			require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
			assert.True(t, res.Success)
			require.Len(t, res.Suspects, 2)
			assert.Equal(t, suspect{Name: "Ana", MatchesCount: 2, Positions: []int{0, 4}}, res.Suspects[0])
			assert.Equal(t, suspect{Name: "Luis", MatchesCount: 0, Positions: []int{}}, res.Suspects[1])
		})
	}
}

func TestEngine_FileOutput(t *testing.T) {
	samples := writeSamples(t, "Nombre,Secuencia\nAna,AAAA\n")
	out := filepath.Join(t.TempDir(), "out.json")

	var stdout bytes.Buffer
	cmd := newRootCommand(&stdout)
	cmd.SetArgs([]string{samples, "AA", "KMP", out})
	require.NoError(t, cmd.Execute())
	assert.Empty(t, stdout.String())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var res result
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, []int{0, 1, 2}, res.Suspects[0].Positions)
	assert.NoFileExists(t, out+".tmp")
}

func TestEngine_LogicalFailures(t *testing.T) {
	samples := writeSamples(t, "Nombre,Secuencia\nAna,ACGT\n")

	for _, args := range [][]string{
		{samples, "ACGT", "BM"},
		{samples, "ACXT", "KMP"},
	} {
		var stdout bytes.Buffer
		cmd := newRootCommand(&stdout)
		cmd.SetArgs(args)
		require.NoError(t, cmd.Execute())

		var res result
		require.NoError(t, json.Unmarshal(stdout.Bytes(), &res))
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Message)
	}
}

func TestEngine_Errors(t *testing.T) {
	var stdout bytes.Buffer

	cmd := newRootCommand(&stdout)
	cmd.SetArgs([]string{"only-one-arg"})
	assert.Error(t, cmd.Execute(), "меньше трёх аргументов")

	cmd = newRootCommand(&stdout)
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "missing.csv"), "ACGT", "KMP"})
	assert.Error(t, cmd.Execute(), "отсутствующий файл образцов")
}
