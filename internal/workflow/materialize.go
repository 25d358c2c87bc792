package workflow

import (
	"fmt"
	"math/rand"
)

// Seed range written into seed-bearing nodes, inclusive
const (
	SeedMin int64 = 1
	SeedMax int64 = 1_000_000_000_000_000
)

// SeedFunc draws a seed for one node
type SeedFunc func() int64

// RandomSeed draws uniformly from [SeedMin, SeedMax]
func RandomSeed() int64 {
	return SeedMin + rand.Int63n(SeedMax-SeedMin+1)
}

// MaterializedJob is a private template copy ready for submission
type MaterializedJob struct {
	JobType  string
	Template *Template
	// Seeds maps node id to the seed written into it
	Seeds map[string]int64
}

// Materializer injects run parameters into templates
type Materializer struct {
	seed SeedFunc
}

// NewMaterializer creates a materializer; a nil seed func uses RandomSeed
func NewMaterializer(seed SeedFunc) *Materializer {
	if seed == nil {
		seed = RandomSeed
	}
	return &Materializer{seed: seed}
}

// Materialize copies tmpl, writes text into every text-input node and a fresh
// seed into every seed-bearing node. tmpl itself is never modified.
func (m *Materializer) Materialize(tmpl *Template, text string) (*MaterializedJob, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("materialize: nil template")
	}

	doc := tmpl.Clone()
	job := &MaterializedJob{
		JobType:  tmpl.Name,
		Template: doc,
		Seeds:    make(map[string]int64),
	}

	for _, n := range doc.Nodes {
		switch n.Role {
		case RoleTextInput:
			n.setInput(n.Field, text)
		case RoleSeedSource:
			s := m.seed()
			n.setInput(n.Field, s)
			job.Seeds[n.ID] = s
		}
	}

	return job, nil
}
