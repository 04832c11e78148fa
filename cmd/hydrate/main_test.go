package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/scenepartner-api/internal/hydration"
	"github.com/maauso/scenepartner-api/internal/script"
)

func TestLoadLines_FromStdinSorted(t *testing.T) {
	in := strings.NewReader(`[
		{"index": 2, "character": "BOB", "text": "Later."},
		{"index": 0, "character": "ALICE", "text": "First."}
	]`)

	lines, err := loadLines(in, "-")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, 0, lines[0].Index)
	assert.Equal(t, 2, lines[1].Index)
}

func TestLoadLines_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"index": 0, "text": "Hello."}]`), 0o644))

	lines, err := loadLines(nil, path)
	require.NoError(t, err)
	assert.Equal(t, []script.Line{{Index: 0, Text: "Hello."}}, lines)
}

func TestLoadLines_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "nope"},
		{"missing text", `[{"index": 0}]`},
		{"negative index", `[{"index": -1, "text": "Hi."}]`},
		{"duplicate index", `[{"index": 1, "text": "A."}, {"index": 1, "text": "B."}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadLines(strings.NewReader(tt.input), "-")
			assert.Error(t, err)
		})
	}

	_, err := loadLines(nil, filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestWriteLines(t *testing.T) {
	lines := []script.Line{{Index: 0, Text: "Hello.", Audio: &script.AudioClip{URL: "/audio/a.wav", Duration: 1.5}}}

	var buf bytes.Buffer
	n, err := writeLines(&buf, "-", lines)
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)
	assert.Contains(t, buf.String(), `"url": "/audio/a.wav"`)

	path := filepath.Join(t.TempDir(), "out.json")
	n, err = writeLines(nil, path, lines)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, data, n)
}

func TestRootCmd_RequiresFlags(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--script", "lines.json"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestProgressPrinter_SkipsRepeats(t *testing.T) {
	var buf bytes.Buffer
	p := &progressPrinter{w: &buf, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	p.OnProgress(10)
	p.OnProgress(10)
	p.OnStageMessage("Aligning batch 1 of 2")
	p.OnProgress(55)
	p.OnStatus(0, script.StatusReady)

	assert.Equal(t, "progress: 10%\nAligning batch 1 of 2\nprogress: 55%\n", buf.String())
}

func TestReport(t *testing.T) {
	lines := []script.Line{{Index: 0, Text: "Hello."}, {Index: 1, Text: "Bye."}}
	cancelled := fmt.Errorf("%w during upload", hydration.ErrCancelled)

	tests := []struct {
		name      string
		res       *hydration.Result
		err       error
		wantErr   error
		wantLines bool
	}{
		{"completed", &hydration.Result{Succeeded: true, Lines: lines}, nil, nil, true},
		{"no work", &hydration.Result{Succeeded: true, NoWork: true, Lines: lines}, nil, nil, true},
		{"partial", &hydration.Result{FailedLines: []int{1}, Lines: lines}, nil, errPartial, true},
		{"cancelled with result", &hydration.Result{FailedLines: []int{1}, Lines: lines}, cancelled, hydration.ErrCancelled, true},
		{"failed", nil, hydration.ErrSynthesisFailed, hydration.ErrSynthesisFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			cmd := newRootCmd()
			cmd.SetOut(&out)
			cmd.SetErr(&errOut)

			err := report(cmd, "-", tt.res, tt.err)

			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantLines {
				assert.Contains(t, out.String(), `"text": "Bye."`)
				assert.Contains(t, errOut.String(), "outcome: "+tt.res.Outcome())
			} else {
				assert.Empty(t, out.String())
			}
		})
	}

	quiet := newRootCmd()
	quiet.SetOut(io.Discard)
	quiet.SetErr(io.Discard)
	err := report(quiet, "-", &hydration.Result{FailedLines: []int{3, 5}}, nil)
	assert.False(t, errors.Is(err, hydration.ErrCancelled))
	assert.Contains(t, err.Error(), "[3 5]")
}
