package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigreport/pkg/contract"
)

// fakeDest: 记录调用的目的地。
type fakeDest struct {
	name    string
	outcome contract.Outcome
	got     *[]contract.Options
}

func (f fakeDest) Label(override string) string {
	if override != "" {
		return override
	}
	return f.name
}

func (f fakeDest) Description(opts contract.Options) string {
	if d := opts["description"]; d != "" {
		return d
	}
	return f.name + " plugin"
}

func (f fakeDest) Report(_ context.Context, _ contract.Signature, _ contract.IO, opts contract.Options) contract.Outcome {
	if f.got != nil {
		*f.got = append(*f.got, opts)
	}
	return f.outcome
}

func fakeRegistry(sections []Section, got *[]contract.Options) *Registry {
	mk := func(name string) Factory {
		return func() contract.Destination { return fakeDest{name: name, outcome: contract.Success, got: got} }
	}
	return &Registry{
		Plugins: map[string]Factory{
			"alpha":    mk("alpha"),
			"beta":     mk("beta"),
			"_private": mk("_private"),
		},
		Sections: sections,
	}
}

func TestBuiltinDestinations(t *testing.T) {
	for _, name := range []string{"localsave", "ftp", "strata", "bugzilla"} {
		f, ok := Destinations[name]
		require.True(t, ok, name)
		d := f()
		require.NotNil(t, d, name)
		assert.Equal(t, name, d.Label(""))
		assert.Equal(t, "custom", d.Label("custom"))
		assert.NotEmpty(t, d.Description(contract.Options{}))
	}
	r := New(nil)
	assert.Equal(t, []string{"bugzilla", "ftp", "localsave", "strata"}, r.PluginNames())
}

func TestResolveSectionsAsChoices(t *testing.T) {
	r := fakeRegistry([]Section{
		{Name: "main", Options: contract.Options{"loglevel": "LOG_DEBUG"}},
		{Name: "A", Options: contract.Options{"plugin": "alpha", "description": "first"}},
		{Name: "B", Options: contract.Options{"plugin": "beta", "path": "/srv"}},
	}, nil)
	res, err := r.Resolve(contract.Options{"path": "/caller"})
	require.NoError(t, err)
	assert.Nil(t, res.Forced)
	require.Len(t, res.Choices, 2)
	assert.Equal(t, "A", res.Choices[0].Title)
	assert.Equal(t, "first", res.Choices[0].Explanation)
	assert.Equal(t, "B", res.Choices[1].Title)
	cmd := res.Choices[1].Value.(Command)
	assert.Equal(t, "beta", cmd.Plugin)
	assert.Equal(t, "B", cmd.Section)
	assert.Equal(t, "/caller", cmd.Options["path"], "调用方选项优先")
}

func TestResolveForcedTargetShortCircuit(t *testing.T) {
	r := fakeRegistry([]Section{
		{Name: "A", Options: contract.Options{"plugin": "alpha"}},
		{Name: "B", Options: contract.Options{"plugin": "beta"}},
	}, nil)
	res, err := r.Resolve(contract.Options{"target": "B"})
	require.NoError(t, err)
	require.NotNil(t, res.Forced)
	assert.Empty(t, res.Choices)
	assert.Equal(t, "beta", res.Forced.Plugin)
	assert.Equal(t, "B", res.Forced.Section)
}

func TestResolveTargetFallsBackToDiscovery(t *testing.T) {
	r := fakeRegistry([]Section{{Name: "A", Options: contract.Options{"plugin": "alpha"}}}, nil)
	res, err := r.Resolve(contract.Options{"target": "beta"})
	require.NoError(t, err)
	require.NotNil(t, res.Forced)
	assert.Equal(t, "beta", res.Forced.Plugin)
	assert.Equal(t, "beta", res.Forced.Options["plugin"])
}

func TestResolveNoSuchDestination(t *testing.T) {
	r := fakeRegistry([]Section{{Name: "A", Options: contract.Options{"plugin": "alpha"}}}, nil)
	_, err := r.Resolve(contract.Options{"target": "nowhere"})
	assert.ErrorIs(t, err, contract.ErrNoSuchDestination)
	assert.Contains(t, err.Error(), "nowhere")

	// 保留名不可被 target 选中
	_, err = r.Resolve(contract.Options{"target": "_private"})
	assert.ErrorIs(t, err, contract.ErrNoSuchDestination)
}

func TestResolveAutoDiscovery(t *testing.T) {
	r := fakeRegistry([]Section{
		{Name: "main"},
		{Name: "broken", Options: contract.Options{"plugin": "missing"}},
	}, nil)
	res, err := r.Resolve(contract.Options{"k": "v"})
	require.NoError(t, err)
	require.Len(t, res.Choices, 2, "未知插件的节被跳过，保留名不参与发现")
	assert.Equal(t, "alpha", res.Choices[0].Title)
	assert.Equal(t, "beta", res.Choices[1].Title)
	cmd := res.Choices[0].Value.(Command)
	assert.Equal(t, contract.Options{"plugin": "alpha", "k": "v"}, cmd.Options)
}

func TestResolveSectionNameAsPlugin(t *testing.T) {
	r := fakeRegistry([]Section{{Name: "alpha"}}, nil)
	res, err := r.Resolve(nil)
	require.NoError(t, err)
	require.Len(t, res.Choices, 1)
	assert.Equal(t, "alpha", res.Choices[0].Value.(Command).Plugin)
}

func TestResolveNoDestinations(t *testing.T) {
	r := &Registry{Plugins: map[string]Factory{}}
	_, err := r.Resolve(nil)
	assert.ErrorIs(t, err, contract.ErrNoDestinations)
}

func TestInvoke(t *testing.T) {
	var got []contract.Options
	r := fakeRegistry(nil, &got)
	opts := contract.Options{"plugin": "alpha"}
	out := r.Invoke(context.Background(), Command{Plugin: "alpha", Options: opts}, contract.Signature{}, nil)
	assert.Equal(t, contract.Success, out)
	require.Len(t, got, 1)
	got[0]["mutated"] = "yes"
	_, leaked := opts["mutated"]
	assert.False(t, leaked, "插件拿到的是副本")

	out = r.Invoke(context.Background(), Command{Plugin: "gone"}, contract.Signature{}, nil)
	assert.Equal(t, contract.Failed, out)
}
