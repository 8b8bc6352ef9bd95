// Package entry stores the config entries that describe zone switches.
package entry

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/jkaflik/zoneworker/internal/zone"
)

// CurrentVersion is the version of the entry data layout.
const CurrentVersion = 1

var (
	ErrNotFound = errors.New("entry not found")
	ErrExists   = errors.New("entry for this room already exists")
)

// Data is set once by the config flow.
type Data struct {
	RoomName        string     `json:"room_name" yaml:"room_name"`
	AreaID          string     `json:"area_id,omitempty" yaml:"area_id,omitempty"`
	Match           zone.Match `json:"match" yaml:"match"`
	Domains         []string   `json:"domains" yaml:"domains"`
	IncludeEntities []string   `json:"include_entities" yaml:"include_entities"`
	ExcludeEntities []string   `json:"exclude_entities" yaml:"exclude_entities"`
}

// Options refine Data through the options flow. A nil list is not set.
type Options struct {
	Domains         []string `json:"domains" yaml:"domains,omitempty"`
	IncludeEntities []string `json:"include_entities" yaml:"include_entities,omitempty"`
	ExcludeEntities []string `json:"exclude_entities" yaml:"exclude_entities,omitempty"`
}

type Entry struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Version   int       `json:"version" yaml:"version"`
	Data      Data      `json:"data" yaml:"data"`
	Options   Options   `json:"options" yaml:"options"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Effective returns the entry data with the options applied over it.
func (e *Entry) Effective() Data {
	d := e.Data
	d.Domains = slices.Clone(d.Domains)
	d.IncludeEntities = slices.Clone(d.IncludeEntities)
	d.ExcludeEntities = slices.Clone(d.ExcludeEntities)

	if e.Options.Domains != nil {
		d.Domains = slices.Clone(e.Options.Domains)
	}
	if e.Options.IncludeEntities != nil {
		d.IncludeEntities = slices.Clone(e.Options.IncludeEntities)
	}
	if e.Options.ExcludeEntities != nil {
		d.ExcludeEntities = slices.Clone(e.Options.ExcludeEntities)
	}
	if d.Match == "" {
		d.Match = zone.MatchArea
	}
	return d
}

// Selector returns the selector tracking every effective domain.
func (d Data) Selector() zone.Selector {
	return zone.Selector{
		Room:    d.RoomName,
		AreaID:  d.AreaID,
		Match:   d.Match,
		Domains: d.Domains,
		Include: d.IncludeEntities,
		Exclude: d.ExcludeEntities,
	}
}

// Store persists config entries.
type Store interface {
	Create(ctx context.Context, e *Entry) error
	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context) ([]*Entry, error)
	UpdateOptions(ctx context.Context, id string, opts Options) (*Entry, error)
	Delete(ctx context.Context, id string) error
}
