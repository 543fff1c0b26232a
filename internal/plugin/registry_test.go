package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowprobe/fprobe/internal/flowrecord"
	"github.com/flowprobe/fprobe/internal/packet"
)

type mockPlugin struct {
	Base
	name         string
	deps         []string
	preCreateRet bool
	postCreate   Verdict
	panicOn      string
}

func newMockPlugin(name string, deps ...string) *mockPlugin {
	return &mockPlugin{name: name, deps: deps, preCreateRet: true, postCreate: OK}
}

func (m *mockPlugin) Metadata() Metadata {
	return Metadata{Name: m.name, Dependencies: m.deps}
}

func (m *mockPlugin) PreCreate(*packet.Descriptor) bool { return m.preCreateRet }

func (m *mockPlugin) PostCreate(*flowrecord.Record, *packet.Descriptor) Verdict {
	if m.panicOn == "PostCreate" {
		panic("boom")
	}
	return m.postCreate
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	p := newMockPlugin("quic")

	require.NoError(t, r.Register(p))

	got, err := r.Get("quic")
	require.NoError(t, err)
	assert.Same(t, p, got)
}

func TestRegistry_RegisterDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newMockPlugin("quic")))

	err := r.Register(newMockPlugin("quic"))
	assert.Error(t, err)
}

func TestRegistry_GetUnknownPlugin(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	assert.Error(t, err)
}

func TestRegistry_LoadOrder_RespectsDependencies(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newMockPlugin("http", "quic")))
	require.NoError(t, r.Register(newMockPlugin("quic")))
	require.NoError(t, r.Register(newMockPlugin("dns")))

	order, err := r.LoadOrder()
	require.NoError(t, err)

	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	assert.Less(t, pos["quic"], pos["http"], "quic must load before its dependent http")
}

func TestRegistry_LoadOrder_DeterministicTieBreak(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newMockPlugin("http")))
	require.NoError(t, r.Register(newMockPlugin("dns")))
	require.NoError(t, r.Register(newMockPlugin("quic")))

	order1, err := r.LoadOrder()
	require.NoError(t, err)

	assert.Equal(t, []string{"dns", "http", "quic"}, order1)
}

func TestRegistry_LoadOrder_UnknownDependency(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newMockPlugin("http", "missing")))

	_, err := r.LoadOrder()
	assert.Error(t, err)
}

func TestRegistry_LoadOrder_CircularDependency(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newMockPlugin("a", "b")))
	require.NoError(t, r.Register(newMockPlugin("b", "a")))

	_, err := r.LoadOrder()
	assert.Error(t, err)
}

func TestRegistry_RunPreCreate_VetoFromAnyPlugin(t *testing.T) {
	r := NewRegistry()
	allow := newMockPlugin("allow")
	veto := newMockPlugin("veto")
	veto.preCreateRet = false

	require.NoError(t, r.Register(allow))
	require.NoError(t, r.Register(veto))

	keep, err := r.RunPreCreate(&packet.Descriptor{})
	require.NoError(t, err)
	assert.False(t, keep)
}

func TestRegistry_FanOut_HighestVerdictWins(t *testing.T) {
	r := NewRegistry()
	ok := newMockPlugin("ok")
	flush := newMockPlugin("flush")
	flush.postCreate = Flush

	require.NoError(t, r.Register(ok))
	require.NoError(t, r.Register(flush))

	verdict, err := r.RunPostCreate(&flowrecord.Record{}, &packet.Descriptor{})
	require.NoError(t, err)
	assert.Equal(t, Flush, verdict)
}

func TestRegistry_FanOut_PluginPanicIsContained(t *testing.T) {
	r := NewRegistry()
	panicker := newMockPlugin("panicker")
	panicker.panicOn = "PostCreate"
	fine := newMockPlugin("fine")
	fine.postCreate = Flush

	require.NoError(t, r.Register(panicker))
	require.NoError(t, r.Register(fine))

	verdict, err := r.RunPostCreate(&flowrecord.Record{}, &packet.Descriptor{})
	assert.Error(t, err, "a panicking plugin must surface as an error, not crash the caller")
	assert.Equal(t, Flush, verdict, "other plugins still run and their verdict still aggregates")
}
