// Package flow implements the config flow that creates entries and the
// options flow that refines them.
package flow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/jkaflik/zoneworker/internal/entry"
	"github.com/jkaflik/zoneworker/internal/metrics"
	"github.com/jkaflik/zoneworker/internal/worker"
	"github.com/jkaflik/zoneworker/internal/zone"
)

const (
	StepUser    = "user"
	StepOptions = "init"

	FieldRoomName        = "room_name"
	FieldDomains         = "domains"
	FieldIncludeEntities = "include_entities"
	FieldExcludeEntities = "exclude_entities"
	FieldMatch           = "match"

	// FieldBase carries errors not tied to a single field.
	FieldBase = "base"
)

// Validation error codes.
const (
	ErrCodeRequired          = "required"
	ErrCodeInvalidDomain     = "invalid_domain"
	ErrCodeInvalidEntityID   = "invalid_entity_id"
	ErrCodeInvalidMatch      = "invalid_match"
	ErrCodeInvalidList       = "invalid_list"
	ErrCodeUnknownArea       = "unknown_area"
	ErrCodeAlreadyConfigured = "already_configured"
)

// DefaultDomains are tracked when nothing else is configured.
var DefaultDomains = []string{"light", "switch"}

var (
	domainPattern   = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	entityIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z0-9_]+$`)
)

type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeList   FieldType = "list"
	FieldTypeSelect FieldType = "select"
)

type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Default  any       `json:"default,omitempty"`
	Options  []string  `json:"options,omitempty"`
}

type Form struct {
	StepID string            `json:"step_id"`
	Fields []Field           `json:"data_schema"`
	Errors map[string]string `json:"errors,omitempty"`
}

type ResultType string

const (
	ResultTypeForm        ResultType = "form"
	ResultTypeCreateEntry ResultType = "create_entry"
)

type Result struct {
	Type  ResultType   `json:"type"`
	Form  *Form        `json:"form,omitempty"`
	Entry *entry.Entry `json:"entry,omitempty"`
}

// Input is the user submission of a step, as decoded from JSON.
type Input map[string]any

// AreaResolver resolves room names to Home Assistant areas.
type AreaResolver interface {
	AreaByName(name string) (string, bool)
}

// Lifecycle loads and unloads the switches of an entry.
type Lifecycle interface {
	SetupEntry(ctx context.Context, e *entry.Entry) error
	UnloadEntry(ctx context.Context, id string) error
	ReloadEntry(ctx context.Context, e *entry.Entry) error
}

type Flow struct {
	store     entry.Store
	areas     AreaResolver
	lifecycle Lifecycle
}

func New(store entry.Store, areas AreaResolver, lifecycle Lifecycle) *Flow {
	return &Flow{store: store, areas: areas, lifecycle: lifecycle}
}

func userForm(errs map[string]string) *Form {
	return &Form{
		StepID: StepUser,
		Fields: []Field{
			{Name: FieldRoomName, Type: FieldTypeString, Required: true},
			{Name: FieldDomains, Type: FieldTypeList, Required: true, Default: slices.Clone(DefaultDomains)},
			{Name: FieldIncludeEntities, Type: FieldTypeList, Default: []string{}},
			{Name: FieldExcludeEntities, Type: FieldTypeList, Default: []string{}},
			{Name: FieldMatch, Type: FieldTypeSelect, Default: string(zone.MatchArea),
				Options: []string{string(zone.MatchArea), string(zone.MatchName)}},
		},
		Errors: errs,
	}
}

func optionsForm(e *entry.Entry, errs map[string]string) *Form {
	d := e.Effective()
	domains := d.Domains
	if len(domains) == 0 {
		domains = slices.Clone(DefaultDomains)
	}
	return &Form{
		StepID: StepOptions,
		Fields: []Field{
			{Name: FieldDomains, Type: FieldTypeList, Required: true, Default: domains},
			{Name: FieldIncludeEntities, Type: FieldTypeList, Default: nonNil(d.IncludeEntities)},
			{Name: FieldExcludeEntities, Type: FieldTypeList, Default: nonNil(d.ExcludeEntities)},
		},
		Errors: errs,
	}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// UserStep shows the config form when input is nil, otherwise validates the
// input and creates an entry.
func (f *Flow) UserStep(ctx context.Context, input Input) (*Result, error) {
	if input == nil {
		return &Result{Type: ResultTypeForm, Form: userForm(nil)}, nil
	}

	errs := make(map[string]string)

	room := strings.TrimSpace(stringValue(input[FieldRoomName]))
	if room == "" {
		errs[FieldRoomName] = ErrCodeRequired
	}

	domains := listField(input, FieldDomains, DefaultDomains, errs)
	include := listField(input, FieldIncludeEntities, []string{}, errs)
	exclude := listField(input, FieldExcludeEntities, []string{}, errs)
	validateDomains(domains, errs)
	validateEntityIDs(FieldIncludeEntities, include, errs)
	validateEntityIDs(FieldExcludeEntities, exclude, errs)

	match := zone.MatchArea
	if v, ok := input[FieldMatch]; ok && v != nil {
		match = zone.Match(strings.TrimSpace(stringValue(v)))
		if !match.Valid() {
			errs[FieldMatch] = ErrCodeInvalidMatch
		}
	}

	var areaID string
	if room != "" && match == zone.MatchArea {
		var ok bool
		if areaID, ok = f.areas.AreaByName(room); !ok {
			errs[FieldRoomName] = ErrCodeUnknownArea
		}
	}

	if len(errs) > 0 {
		return &Result{Type: ResultTypeForm, Form: userForm(errs)}, nil
	}

	e := &entry.Entry{
		Title: room,
		Data: entry.Data{
			RoomName:        room,
			AreaID:          areaID,
			Match:           match,
			Domains:         domains,
			IncludeEntities: include,
			ExcludeEntities: exclude,
		},
	}

	err := f.store.Create(ctx, e)
	if errors.Is(err, entry.ErrExists) {
		return &Result{Type: ResultTypeForm, Form: userForm(map[string]string{FieldBase: ErrCodeAlreadyConfigured})}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create entry: %w", err)
	}

	err = f.lifecycle.SetupEntry(ctx, e)
	if errors.Is(err, worker.ErrSwitchExists) {
		log.Warn().Err(err).Str("room", room).Msg("Room switches collide with another entry")
		if err := f.store.Delete(ctx, e.ID); err != nil {
			return nil, fmt.Errorf("failed to roll back entry: %w", err)
		}
		return &Result{Type: ResultTypeForm, Form: userForm(map[string]string{FieldRoomName: ErrCodeAlreadyConfigured})}, nil
	}
	if err != nil {
		log.Error().Err(err).Str("entry", e.ID).Msg("Failed to set up config entry")
	}

	log.Info().Str("entry", e.ID).Str("room", room).Msg("Created config entry")
	metrics.ConfigEntries.Inc()

	return &Result{Type: ResultTypeCreateEntry, Entry: e}, nil
}

// OptionsStep shows the options form of an entry when input is nil,
// otherwise saves the options and reloads the entry. Fields missing from
// input keep their current value.
func (f *Flow) OptionsStep(ctx context.Context, id string, input Input) (*Result, error) {
	e, err := f.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if input == nil {
		return &Result{Type: ResultTypeForm, Form: optionsForm(e, nil)}, nil
	}

	current := e.Effective()
	errs := make(map[string]string)

	domains := listField(input, FieldDomains, current.Domains, errs)
	include := listField(input, FieldIncludeEntities, nonNil(current.IncludeEntities), errs)
	exclude := listField(input, FieldExcludeEntities, nonNil(current.ExcludeEntities), errs)
	validateDomains(domains, errs)
	validateEntityIDs(FieldIncludeEntities, include, errs)
	validateEntityIDs(FieldExcludeEntities, exclude, errs)

	if len(errs) > 0 {
		return &Result{Type: ResultTypeForm, Form: optionsForm(e, errs)}, nil
	}

	updated, err := f.store.UpdateOptions(ctx, id, entry.Options{
		Domains:         domains,
		IncludeEntities: include,
		ExcludeEntities: exclude,
	})
	if err != nil {
		return nil, err
	}

	err = f.lifecycle.ReloadEntry(ctx, updated)
	if errors.Is(err, worker.ErrSwitchExists) {
		log.Warn().Err(err).Str("entry", id).Msg("Domain switches collide with another entry")
		if _, err := f.store.UpdateOptions(ctx, id, e.Options); err != nil {
			return nil, fmt.Errorf("failed to restore options: %w", err)
		}
		return &Result{Type: ResultTypeForm, Form: optionsForm(e, map[string]string{FieldDomains: ErrCodeAlreadyConfigured})}, nil
	}
	if err != nil {
		log.Error().Err(err).Str("entry", id).Msg("Failed to reload config entry")
	}

	log.Info().Str("entry", id).Strs("domains", domains).Msg("Updated config entry options")

	return &Result{Type: ResultTypeCreateEntry, Entry: updated}, nil
}

// Remove unloads an entry and deletes it.
func (f *Flow) Remove(ctx context.Context, id string) error {
	if _, err := f.store.Get(ctx, id); err != nil {
		return err
	}

	if err := f.lifecycle.UnloadEntry(ctx, id); err != nil {
		log.Warn().Err(err).Str("entry", id).Msg("Failed to unload config entry")
	}

	if err := f.store.Delete(ctx, id); err != nil {
		return err
	}

	metrics.ConfigEntries.Dec()
	log.Info().Str("entry", id).Msg("Removed config entry")

	return nil
}

// SetupAll sets up every stored entry. An entry that fails is logged and
// skipped.
func (f *Flow) SetupAll(ctx context.Context) error {
	entries, err := f.store.List(ctx)
	if err != nil {
		return err
	}

	metrics.ConfigEntries.Set(float64(len(entries)))

	for _, e := range entries {
		if err := f.lifecycle.SetupEntry(ctx, e); err != nil {
			log.Error().Err(err).Str("entry", e.ID).Str("room", e.Data.RoomName).Msg("Failed to set up config entry")
		}
	}

	log.Info().Int("entries", len(entries)).Msg("Set up config entries")

	return nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func listField(input Input, name string, def []string, errs map[string]string) []string {
	v, ok := input[name]
	if !ok || v == nil {
		return slices.Clone(def)
	}
	list, ok := EnsureList(v)
	if !ok {
		errs[name] = ErrCodeInvalidList
		return nil
	}
	return list
}

// EnsureList accepts a list of strings or a single comma separated string.
// Items are trimmed and empty items dropped.
func EnsureList(v any) ([]string, bool) {
	var raw []string
	switch t := v.(type) {
	case nil:
		return []string{}, true
	case string:
		raw = strings.Split(t, ",")
	case []string:
		raw = t
	case []any:
		raw = make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			raw = append(raw, s)
		}
	default:
		return nil, false
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out, true
}

func validateDomains(domains []string, errs map[string]string) {
	if _, failed := errs[FieldDomains]; failed {
		return
	}
	if len(domains) == 0 {
		errs[FieldDomains] = ErrCodeRequired
		return
	}
	for _, d := range domains {
		if !domainPattern.MatchString(d) {
			errs[FieldDomains] = ErrCodeInvalidDomain
			return
		}
	}
}

func validateEntityIDs(field string, ids []string, errs map[string]string) {
	if _, failed := errs[field]; failed {
		return
	}
	for _, id := range ids {
		if !entityIDPattern.MatchString(id) {
			errs[field] = ErrCodeInvalidEntityID
			return
		}
	}
}
