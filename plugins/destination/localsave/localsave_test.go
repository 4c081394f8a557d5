package localsave

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigreport/pkg/codec"
	"sigreport/pkg/contract"
	"sigreport/pkg/signature"
	"sigreport/plugins/io/scripted"
)

func sampleSig() contract.Signature {
	return contract.Signature{
		"component":   signature.Text("kernel"),
		"description": signature.Text("oops"),
	}
}

func noTmpLeft(t *testing.T, dir string) {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("tmp file not cleaned: %s", e.Name())
		}
	}
}

func TestLabelDescription(t *testing.T) {
	d := New()
	assert.Equal(t, "localsave", d.Label(""))
	assert.Equal(t, "mine", d.Label("mine"))
	assert.Equal(t, "localsave plugin", d.Description(nil))
	assert.Equal(t, "x", d.Description(contract.Options{"description": "x"}))
}

func TestSaveToExistingDir(t *testing.T) {
	dir := t.TempDir()
	ui := scripted.New(scripted.Answers{}, nil)
	out := New().Report(context.Background(), sampleSig(), ui, contract.Options{"path": dir})
	require.Equal(t, contract.Success, out)

	target := filepath.Join(dir, "description.xml")
	sig, err := codec.Deserialize(target)
	require.NoError(t, err)
	s, _ := sig.StringOf("description")
	assert.Equal(t, "oops", s)

	msg, ok := ui.Last(scripted.KindSuccess)
	require.True(t, ok)
	assert.Equal(t, "local save Successful", msg.Title)
	assert.Equal(t, target, msg.DisplayLink)
	noTmpLeft(t, dir)
}

func TestSaveQueriesPath(t *testing.T) {
	dir := t.TempDir()
	ui := scripted.New(scripted.Answers{Fields: map[string]scripted.Queue{
		"directory to store report in": {dir},
	}}, nil)
	out := New().Report(context.Background(), sampleSig(), ui, nil)
	assert.Equal(t, contract.Success, out)

	ui = scripted.New(scripted.Answers{}, nil)
	out = New().Report(context.Background(), sampleSig(), ui, nil)
	assert.Equal(t, contract.Canceled, out, "未应答即取消")
}

func TestSaveBlankPath(t *testing.T) {
	ui := scripted.New(scripted.Answers{}, nil)
	out := New().Report(context.Background(), sampleSig(), ui, contract.Options{"path": "  "})
	assert.Equal(t, contract.Failed, out)
	msg, _ := ui.Last(scripted.KindFail)
	assert.Equal(t, "local save Failed", msg.Title)
	assert.Equal(t, "directory name required", msg.Text)
}

func TestSaveNotADirectory(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	ui := scripted.New(scripted.Answers{}, nil)
	out := New().Report(context.Background(), sampleSig(), ui, contract.Options{"path": f})
	assert.Equal(t, contract.Failed, out)
	msg, _ := ui.Last(scripted.KindFail)
	assert.Contains(t, msg.Text, "already exists, but is not a directory")
}

func TestSaveCreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	prompt := "'" + dir + "' does not exist, create it?"

	ui := scripted.New(scripted.Answers{Choices: map[string]scripted.Queue{prompt: {"Cancel"}}}, nil)
	out := New().Report(context.Background(), sampleSig(), ui, contract.Options{"path": dir})
	assert.Equal(t, contract.Canceled, out)
	_, err := os.Stat(dir)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	ui = scripted.New(scripted.Answers{Choices: map[string]scripted.Queue{prompt: {"OK"}}}, nil)
	out = New().Report(context.Background(), sampleSig(), ui, contract.Options{"path": dir})
	assert.Equal(t, contract.Success, out)
	_, err = os.Stat(filepath.Join(dir, "description.xml"))
	assert.NoError(t, err)
}

// simpleFile 已位于目标目录时不复制自身。
func TestSaveSameFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "core.txt")
	require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))
	sig, err := signature.NewSimpleFile(signature.Static{}, p, false)
	require.NoError(t, err)

	ui := scripted.New(scripted.Answers{}, nil)
	out := New().Report(context.Background(), sig, ui, contract.Options{"path": dir})
	assert.Equal(t, contract.Success, out)
	b, _ := os.ReadFile(p)
	assert.Equal(t, "data", string(b))
}

func TestSaveReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "description.xml")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))
	out := New().Report(context.Background(), sampleSig(), scripted.New(scripted.Answers{}, nil), contract.Options{"path": dir})
	require.Equal(t, contract.Success, out)
	b, _ := os.ReadFile(target)
	assert.NotEqual(t, "old", string(b))
	noTmpLeft(t, dir)
}

func TestWriteAtomicCtxCancel(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New().(*Saver)
	err := s.writeAtomic(ctx, src, filepath.Join(dir, "dst"))
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(filepath.Join(dir, "dst"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
	noTmpLeft(t, dir)
}

func TestNilIO(t *testing.T) {
	assert.Equal(t, contract.Failed, New().Report(context.Background(), sampleSig(), nil, nil))
}
