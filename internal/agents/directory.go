// Package agents is the in-memory directory of agents whose calendars can
// be queried.
package agents

import (
	"github.com/pkg/errors"

	"agentcal/internal/model"
)

// Directory resolves agent ids. It is built once from config and never
// mutated, so it is safe for concurrent use.
type Directory struct {
	order []string
	byID  map[string]model.Agent
}

// NewDirectory builds a Directory. Entries with an empty id are rejected;
// duplicate ids keep the first entry.
func NewDirectory(list []model.Agent) (*Directory, error) {
	d := &Directory{byID: make(map[string]model.Agent, len(list))}
	for i, a := range list {
		if a.ID == "" {
			return nil, errors.Errorf("agent #%d has an empty id", i)
		}
		if _, dup := d.byID[a.ID]; dup {
			continue
		}
		d.byID[a.ID] = a
		d.order = append(d.order, a.ID)
	}
	return d, nil
}

// Lookup returns the agent or model.ErrNotFound.
func (d *Directory) Lookup(agentID string) (model.Agent, error) {
	a, ok := d.byID[agentID]
	if !ok {
		return model.Agent{}, errors.Wrapf(model.ErrNotFound, "agent %q", agentID)
	}
	return a, nil
}

// List returns all agents in configured order.
func (d *Directory) List() []model.Agent {
	out := make([]model.Agent, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.byID[id])
	}
	return out
}

// Clients returns the clients of an agent.
func (d *Directory) Clients(agentID string) ([]model.Client, error) {
	a, err := d.Lookup(agentID)
	if err != nil {
		return nil, err
	}
	if a.Clients == nil {
		return []model.Client{}, nil
	}
	return a.Clients, nil
}
