package chaos

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/odvcencio/constellation/pkg/ids"
)

func ptr[T any](v T) *T { return &v }

func candidates(n int) []Candidate {
	out := make([]Candidate, 0, n)
	for i := n; i > 0; i-- {
		out = append(out, Candidate{Pipeline: ids.PipelineFromParts(ids.ConstellationNamespace, uint32(i))})
	}
	return out
}

func TestDisabledWithoutProbability(t *testing.T) {
	inj := New(DefaultConfig(), nil)
	assert.False(t, inj.Enabled())
	_, ok := inj.Pick(candidates(3))
	assert.False(t, ok)
}

func TestZeroProbabilityNeverPicks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probability = ptr(0.0)
	cfg.Seed = ptr(uint64(1))
	inj := New(cfg, nil)
	require.True(t, inj.Enabled())
	for range 100 {
		_, ok := inj.Pick(candidates(3))
		assert.False(t, ok)
	}
}

// Same seed and same traffic close the same pipelines in the same order.
func TestSameSeedSameVictims(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probability = ptr(1.0)
	cfg.Seed = ptr(uint64(42))

	run := func() []ids.PipelineID {
		inj := New(cfg, nil)
		var picked []ids.PipelineID
		for n := 5; n > 0; n-- {
			p, ok := inj.Pick(candidates(n))
			require.True(t, ok)
			picked = append(picked, p)
		}
		return picked
	}
	assert.Equal(t, run(), run())
}

func TestCandidateOrderDoesNotMatter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probability = ptr(1.0)
	cfg.Seed = ptr(uint64(7))

	forward := candidates(6)
	reversed := make([]Candidate, len(forward))
	for i, c := range forward {
		reversed[len(forward)-1-i] = c
	}
	a, _ := New(cfg, nil).Pick(forward)
	b, _ := New(cfg, nil).Pick(reversed)
	assert.Equal(t, a, b)
}

func TestHiddenPipelinesCanBeExcluded(t *testing.T) {
	visible := ids.PipelineFromParts(ids.ConstellationNamespace, 9)
	list := []Candidate{
		{Pipeline: ids.PipelineFromParts(ids.ConstellationNamespace, 1), Hidden: true},
		{Pipeline: visible},
		{Pipeline: ids.PipelineFromParts(ids.ConstellationNamespace, 2), Hidden: true},
	}

	cfg := DefaultConfig()
	cfg.Probability = ptr(1.0)
	cfg.Seed = ptr(uint64(3))
	cfg.IncludeHidden = false
	inj := New(cfg, nil)
	for range 20 {
		p, ok := inj.Pick(list)
		require.True(t, ok)
		assert.Equal(t, visible, p)
	}

	_, ok := inj.Pick(list[:1])
	assert.False(t, ok)
}

func TestPickAlwaysReturnsACandidate(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(rt, "n")
		seed := rapid.Uint64().Draw(rt, "seed")
		cfg := DefaultConfig()
		cfg.Probability = ptr(1.0)
		cfg.Seed = &seed
		list := candidates(n)
		for i := range list {
			list[i].Pending = rapid.Bool().Draw(rt, "pending")
		}

		p, ok := New(cfg, nil).Pick(list)
		if !ok {
			rt.Fatalf("probability 1 must always pick")
		}
		found := false
		for _, c := range list {
			found = found || c.Pipeline == p
		}
		if !found {
			rt.Fatalf("picked %s which is not a candidate", p)
		}
	})
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Probability = ptr(1.5)
	assert.Error(t, cfg.Validate())

	cfg.Probability = ptr(0.5)
	cfg.Interval = 0
	assert.Error(t, cfg.Validate())

	cfg.Interval = time.Millisecond
	assert.NoError(t, cfg.Validate())
}

func TestRandomSeedIsReported(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Probability = ptr(0.5)
	a := New(cfg, nil)
	cfg.Seed = ptr(a.Seed())
	b := New(cfg, nil)

	list := candidates(4)
	for range 10 {
		pa, oka := a.Pick(list)
		pb, okb := b.Pick(list)
		assert.Equal(t, oka, okb)
		assert.Equal(t, pa, pb)
	}
}
