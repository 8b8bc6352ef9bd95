// Package hasstest provides an in-process Home Assistant websocket API for tests.
package hasstest

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/jkaflik/zoneworker/hass"
)

// Version is reported in auth messages.
const Version = "2024.8.0"

// ServiceCall records a call_service command.
type ServiceCall struct {
	Domain    string
	Service   string
	Data      map[string]any
	EntityIDs []string
}

// Server speaks the subset of the Home Assistant websocket API used by zoneworker.
type Server struct {
	token    string
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mtx      sync.Mutex
	states   map[string]hass.State
	areas    []hass.AreaRegistryEntry
	entities []hass.EntityRegistryEntry
	devices  []hass.DeviceRegistryEntry
	calls    []ServiceCall
	failures map[string]string
	conns    map[*conn]struct{}
	offline  bool
}

type conn struct {
	ws       *websocket.Conn
	writeMtx sync.Mutex

	mtx  sync.Mutex
	subs map[int]hass.EventType
}

// Option configures a Server.
type Option func(*Server)

// WithStates seeds entity states.
func WithStates(states map[string]string) Option {
	return func(s *Server) {
		for id, state := range states {
			s.states[id] = newState(id, state)
		}
	}
}

// WithAreas seeds the area registry.
func WithAreas(areas ...hass.AreaRegistryEntry) Option {
	return func(s *Server) {
		s.areas = append(s.areas, areas...)
	}
}

// WithEntityRegistry seeds the entity registry.
func WithEntityRegistry(entries ...hass.EntityRegistryEntry) Option {
	return func(s *Server) {
		s.entities = append(s.entities, entries...)
	}
}

// WithDeviceRegistry seeds the device registry.
func WithDeviceRegistry(entries ...hass.DeviceRegistryEntry) Option {
	return func(s *Server) {
		s.devices = append(s.devices, entries...)
	}
}

// WithFailure makes every command of the given type fail with code.
func WithFailure(messageType, code string) Option {
	return func(s *Server) {
		s.failures[messageType] = code
	}
}

// NewServer starts a server accepting token.
func NewServer(token string, opts ...Option) *Server {
	s := &Server{
		token:    token,
		states:   make(map[string]hass.State),
		failures: make(map[string]string),
		conns:    make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/websocket", s.handle)
	s.srv = httptest.NewServer(mux)

	return s
}

// URL returns the websocket base URL of the server.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close stops the server.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// DropConnections closes every client connection without a close handshake.
func (s *Server) DropConnections() {
	s.mtx.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mtx.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
}

// SetOffline drops every connection and refuses new ones until called with
// false. State changes made while offline reach no client.
func (s *Server) SetOffline(offline bool) {
	s.mtx.Lock()
	s.offline = offline
	s.mtx.Unlock()

	if offline {
		s.DropConnections()
	}
}

// Connections returns the number of authenticated connections.
func (s *Server) Connections() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.conns)
}

// Subscriptions returns the number of active event subscriptions.
func (s *Server) Subscriptions() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	n := 0
	for c := range s.conns {
		c.mtx.Lock()
		n += len(c.subs)
		c.mtx.Unlock()
	}
	return n
}

// Calls returns the recorded service calls.
func (s *Server) Calls() []ServiceCall {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return append([]ServiceCall(nil), s.calls...)
}

// State returns the current state of an entity.
func (s *Server) State(entityID string) (string, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	st, ok := s.states[entityID]
	return st.State, ok
}

// SetState changes an entity state and emits state_changed.
func (s *Server) SetState(entityID, state string) {
	s.mtx.Lock()
	old, existed := s.states[entityID]
	next := newState(entityID, state)
	s.states[entityID] = next
	s.mtx.Unlock()

	data := hass.EventData{EntityID: entityID, NewState: &next}
	if existed {
		data.OldState = &old
	}
	s.emit(hass.EventTypeStateChanged, data)
}

// RemoveState deletes an entity and emits state_changed with no new state.
func (s *Server) RemoveState(entityID string) {
	s.mtx.Lock()
	old, existed := s.states[entityID]
	delete(s.states, entityID)
	s.mtx.Unlock()

	if !existed {
		return
	}
	s.emit(hass.EventTypeStateChanged, hass.EventData{EntityID: entityID, OldState: &old})
}

// AssignArea moves an entity to an area and emits entity_registry_updated.
func (s *Server) AssignArea(entityID, areaID string) {
	s.mtx.Lock()
	found := false
	for i := range s.entities {
		if s.entities[i].EntityID == entityID {
			s.entities[i].AreaID = &areaID
			found = true
		}
	}
	if !found {
		s.entities = append(s.entities, hass.EntityRegistryEntry{EntityID: entityID, AreaID: &areaID})
	}
	s.mtx.Unlock()

	s.emit(hass.EventTypeEntityRegistryUpdated, hass.EventData{EntityID: entityID})
}

func newState(entityID, state string) hass.State {
	now := time.Now().UTC()
	return hass.State{
		EntityID:    entityID,
		State:       state,
		Attributes:  json.RawMessage(`{}`),
		LastChanged: now,
		LastUpdated: now,
	}
}

func (s *Server) emit(eventType hass.EventType, data hass.EventData) {
	s.mtx.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mtx.Unlock()

	for _, c := range conns {
		c.mtx.Lock()
		ids := make([]int, 0, len(c.subs))
		for id, t := range c.subs {
			if t == "" || t == eventType {
				ids = append(ids, id)
			}
		}
		c.mtx.Unlock()
		sort.Ints(ids)

		for _, id := range ids {
			_ = c.send(hass.EventMessage{
				BaseMessage: hass.BaseMessage{ID: id, Type: hass.MessageTypeEvent},
				Event: hass.Event{
					EventType: eventType,
					TimeFired: time.Now().UTC(),
					Origin:    "LOCAL",
					Data:      data,
				},
			})
		}
	}
}

func (c *conn) send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *conn) result(id int, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.send(hass.ResultMessage{
		BaseMessage: hass.BaseMessage{ID: id, Type: hass.MessageTypeResult},
		Success:     true,
		Result:      raw,
	})
}

func (c *conn) fail(id int, code, message string) error {
	return c.send(hass.ResultMessage{
		BaseMessage: hass.BaseMessage{ID: id, Type: hass.MessageTypeResult},
		Error:       &hass.ResultMessageError{Code: code, Message: message},
	})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mtx.Lock()
	offline := s.offline
	s.mtx.Unlock()
	if offline {
		http.Error(w, "home assistant is restarting", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	c := &conn{ws: ws, subs: make(map[int]hass.EventType)}

	if err := c.send(hass.AuthRequiredMessage{
		BaseMessage: hass.BaseMessage{Type: hass.MessageTypeAuthRequired},
		Version:     Version,
	}); err != nil {
		return
	}

	_, raw, err := ws.ReadMessage()
	if err != nil {
		return
	}
	var auth hass.AuthMessage
	if err := json.Unmarshal(raw, &auth); err != nil || auth.Type != hass.MessageTypeAuth || auth.AccessToken != s.token {
		_ = c.send(hass.AuthInvalidMessage{
			BaseMessage: hass.BaseMessage{Type: hass.MessageTypeAuthInvalid},
			Message:     "Invalid access token or password",
		})
		return
	}

	s.mtx.Lock()
	s.conns[c] = struct{}{}
	s.mtx.Unlock()
	defer func() {
		s.mtx.Lock()
		delete(s.conns, c)
		s.mtx.Unlock()
	}()

	if err := c.send(hass.AuthOKMessage{
		BaseMessage: hass.BaseMessage{Type: hass.MessageTypeAuthOK},
		Version:     Version,
	}); err != nil {
		return
	}

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if err := s.serve(c, raw); err != nil {
			return
		}
	}
}

func (s *Server) serve(c *conn, raw []byte) error {
	var base hass.BaseMessage
	if err := json.Unmarshal(raw, &base); err != nil {
		return err
	}

	s.mtx.Lock()
	code, failing := s.failures[base.Type]
	s.mtx.Unlock()
	if failing {
		return c.fail(base.ID, code, "forced failure")
	}

	switch base.Type {
	case hass.MessageTypePing:
		return c.send(hass.BaseMessage{ID: base.ID, Type: hass.MessageTypePong})
	case hass.MessageTypeGetStates:
		s.mtx.Lock()
		states := make([]hass.State, 0, len(s.states))
		for _, st := range s.states {
			states = append(states, st)
		}
		s.mtx.Unlock()
		sort.Slice(states, func(i, j int) bool { return states[i].EntityID < states[j].EntityID })
		return c.result(base.ID, states)
	case hass.MessageTypeAreaRegistryList:
		s.mtx.Lock()
		areas := append([]hass.AreaRegistryEntry{}, s.areas...)
		s.mtx.Unlock()
		return c.result(base.ID, areas)
	case hass.MessageTypeEntityRegistryList:
		s.mtx.Lock()
		entities := append([]hass.EntityRegistryEntry{}, s.entities...)
		s.mtx.Unlock()
		return c.result(base.ID, entities)
	case hass.MessageTypeDeviceRegistryList:
		s.mtx.Lock()
		devices := append([]hass.DeviceRegistryEntry{}, s.devices...)
		s.mtx.Unlock()
		return c.result(base.ID, devices)
	case hass.MessageTypeSubscribeEvents:
		var m hass.SubscribeEventsMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		c.mtx.Lock()
		c.subs[m.ID] = m.EventType
		c.mtx.Unlock()
		return c.result(base.ID, nil)
	case hass.MessageTypeUnsubscribeEvents:
		var m hass.UnsubscribeEventsMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		c.mtx.Lock()
		_, ok := c.subs[m.Subscription]
		delete(c.subs, m.Subscription)
		c.mtx.Unlock()
		if !ok {
			return c.fail(base.ID, "not_found", "Subscription not found.")
		}
		return c.result(base.ID, nil)
	case hass.MessageTypeCallService:
		var m hass.CallServiceMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		s.callService(m)
		return c.result(base.ID, map[string]any{"context": map[string]any{"id": "test"}})
	default:
		return c.fail(base.ID, "unknown_command", "Unknown command.")
	}
}

func (s *Server) callService(m hass.CallServiceMessage) {
	call := ServiceCall{Domain: m.Domain, Service: m.Service, Data: m.ServiceData}
	if m.Target != nil {
		call.EntityIDs = append(call.EntityIDs, m.Target.EntityID...)
	}

	s.mtx.Lock()
	s.calls = append(s.calls, call)
	s.mtx.Unlock()

	var next string
	switch m.Service {
	case hass.ServiceTurnOn:
		next = hass.BooleanOnValue
	case hass.ServiceTurnOff:
		next = hass.BooleanOffValue
	default:
		return
	}

	for _, id := range call.EntityIDs {
		if _, ok := s.State(id); ok {
			s.SetState(id, next)
		}
	}
}
