package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bbernstein/lacylights-outputs/internal/outputs"
)

type outputView struct {
	Number       int   `json:"number"`
	Universe     int   `json:"universe"`
	Channels     int32 `json:"channels"`
	Enabled      bool  `json:"enabled"`
	StartChannel int32 `json:"startChannel"`
	EndChannel   int32 `json:"endChannel"`
}

type controllerView struct {
	ID           int          `json:"id"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	Description  string       `json:"description,omitempty"`
	Summary      string       `json:"summary"`
	Vendor       string       `json:"vendor,omitempty"`
	Model        string       `json:"model,omitempty"`
	Firmware     string       `json:"firmware,omitempty"`
	Address      string       `json:"address,omitempty"`
	Protocol     string       `json:"protocol,omitempty"`
	Active       bool         `json:"active"`
	Ok           bool         `json:"ok"`
	Dirty        bool         `json:"dirty"`
	StartChannel int32        `json:"startChannel"`
	EndChannel   int32        `json:"endChannel"`
	Channels     int32        `json:"channels"`
	Universes    string       `json:"universes"`
	Ping         string       `json:"ping"`
	Reachable    bool         `json:"reachable"`
	Outputs      []outputView `json:"outputs"`
}

type protocolled interface {
	Protocol() string
}

func viewOf(c outputs.Controller) controllerView {
	state := c.LastPingState()
	v := controllerView{
		ID:           c.ID(),
		Name:         c.Name(),
		Type:         c.Type(),
		Description:  c.Description(),
		Summary:      c.LongDescription(),
		Vendor:       c.Vendor(),
		Model:        c.Model(),
		Firmware:     c.FirmwareVersion(),
		Active:       c.IsActive(),
		Ok:           c.IsOk(),
		Dirty:        c.IsDirty(),
		StartChannel: c.StartChannel(),
		EndChannel:   c.EndChannel(),
		Channels:     c.Channels(),
		Universes:    c.UniverseString(),
		Ping:         state.String(),
		Reachable:    state.IsReachable(),
		Outputs:      []outputView{},
	}
	if a, ok := c.(outputs.Addressable); ok {
		v.Address = a.Address()
	}
	if p, ok := c.(protocolled); ok {
		v.Protocol = p.Protocol()
	}
	for _, o := range c.Outputs() {
		v.Outputs = append(v.Outputs, outputView{
			Number:       o.OutputNumber(),
			Universe:     o.Universe(),
			Channels:     o.Channels(),
			Enabled:      o.IsEnabled(),
			StartChannel: o.StartChannel(),
			EndChannel:   o.EndChannel(),
		})
	}
	return v
}

// lookup finds a controller by name, then by numeric controller id.
func lookup(om *outputs.Manager, key string) (outputs.Controller, error) {
	if c, ok := om.ControllerByName(key); ok {
		return c, nil
	}
	if id, err := strconv.Atoi(key); err == nil {
		if c, ok := om.ControllerByID(id); ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: controller %q", outputs.ErrNotFound, key)
}

// handleListControllers lists controllers in channel order, or by name with
// ?sort=name. ?ping=<state> keeps controllers whose last ping matches.
func (s *Server) handleListControllers(w http.ResponseWriter, r *http.Request) {
	order := r.URL.Query().Get("sort")
	if order != "" && order != "channel" && order != "name" {
		badRequest(w, fmt.Sprintf("unknown sort %q, expected channel or name", order))
		return
	}
	pingFilter := r.URL.Query().Get("ping")
	want := outputs.ParsePingState(pingFilter)
	if pingFilter != "" && want.String() != pingFilter {
		badRequest(w, fmt.Sprintf("unknown ping state %q", pingFilter))
		return
	}

	views := []controllerView{}
	s.show.View(func(om *outputs.Manager) {
		cs := om.Controllers()
		if order == "name" {
			cs = om.SortedByName()
		}
		for _, c := range cs {
			if pingFilter != "" && c.LastPingState() != want {
				continue
			}
			views = append(views, viewOf(c))
		}
	})
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetController(w http.ResponseWriter, r *http.Request) {
	var (
		view controllerView
		err  error
	)
	s.show.View(func(om *outputs.Manager) {
		var c outputs.Controller
		if c, err = lookup(om, chi.URLParam(r, "id")); err == nil {
			view = viewOf(c)
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCreateController accepts a controller record. Omitted fields take
// the current schema version and an active controller.
func (s *Server) handleCreateController(w http.ResponseWriter, r *http.Request) {
	rec := outputs.Record{SchemaVersion: outputs.CurrentSchemaVersion, Active: true}
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		badRequest(w, "invalid controller record: "+err.Error())
		return
	}

	var view controllerView
	err := s.show.Update(func(om *outputs.Manager) error {
		c, err := om.Registry().Create(om, &rec, s.show.ShowDir())
		if err != nil {
			return err
		}
		if err := om.Add(c); err != nil {
			return err
		}
		om.Layout()
		view = viewOf(c)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.WithField("controller", view.Name).Info("controller created")
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleDeleteController(w http.ResponseWriter, r *http.Request) {
	var name string
	err := s.show.Update(func(om *outputs.Manager) error {
		c, err := lookup(om, chi.URLParam(r, "id"))
		if err != nil {
			return err
		}
		name = c.Name()
		om.Remove(c)
		c.Close()
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.WithField("controller", name).Info("controller removed")
	w.WriteHeader(http.StatusNoContent)
}

type moveRequest struct {
	Position *int `json:"position"`
}

// handleMoveController places a controller at a zero based position in the
// channel order and lays out the show again.
func (s *Server) handleMoveController(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Position == nil {
		badRequest(w, "expected {\"position\": n}")
		return
	}

	var views []controllerView
	err := s.show.Update(func(om *outputs.Manager) error {
		c, err := lookup(om, chi.URLParam(r, "id"))
		if err != nil {
			return err
		}
		if err := om.Move(c, *req.Position); err != nil {
			return err
		}
		for _, c := range om.Controllers() {
			views = append(views, viewOf(c))
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type propertiesResponse struct {
	Controller string              `json:"controller"`
	Properties []*outputs.Property `json:"properties"`
	Problems   []errorResponse     `json:"problems"`
}

func propertiesOf(om *outputs.Manager, c outputs.Controller) propertiesResponse {
	g := outputs.NewPropertyGrid()
	c.AddProperties(g)
	resp := propertiesResponse{
		Controller: c.Name(),
		Properties: g.Properties(),
		Problems:   []errorResponse{},
	}
	for _, p := range c.ValidateProperties(om) {
		resp.Problems = append(resp.Problems, errorResponse{Error: p.Message, Property: p.Property})
	}
	return resp
}

func (s *Server) handleGetProperties(w http.ResponseWriter, r *http.Request) {
	var (
		resp propertiesResponse
		err  error
	)
	s.show.View(func(om *outputs.Manager) {
		var c outputs.Controller
		if c, err = lookup(om, chi.URLParam(r, "id")); err == nil {
			resp = propertiesOf(om, c)
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePatchProperties applies a list of property edits in order. Edits
// before a rejected one stay applied and are listed in the error body.
func (s *Server) handlePatchProperties(w http.ResponseWriter, r *http.Request) {
	var events []outputs.PropertyEvent
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		badRequest(w, "expected a list of {name, value} edits: "+err.Error())
		return
	}

	var (
		resp    propertiesResponse
		applied []string
	)
	err := s.show.Update(func(om *outputs.Manager) error {
		c, err := lookup(om, chi.URLParam(r, "id"))
		if err != nil {
			return err
		}
		for _, ev := range events {
			handled, err := c.HandlePropertyEvent(om, ev)
			if err != nil {
				return err
			}
			if !handled {
				return &outputs.ValidationError{Property: ev.Name, Message: "unknown property"}
			}
			applied = append(applied, ev.Name)
		}
		om.Layout()
		resp = propertiesOf(om, c)
		return nil
	})
	var verr *outputs.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:    err.Error(),
			Property: verr.Property,
			Applied:  applied,
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type pingResponse struct {
	Controller  string `json:"controller"`
	State       string `json:"state"`
	Reachable   bool   `json:"reachable"`
	Description string `json:"description"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	var (
		resp pingResponse
		err  error
	)
	s.show.View(func(om *outputs.Manager) {
		var c outputs.Controller
		if c, err = lookup(om, chi.URLParam(r, "id")); err != nil {
			return
		}
		state := c.Ping(r.Context())
		resp = pingResponse{
			Controller:  c.Name(),
			State:       state.String(),
			Reachable:   state.IsReachable(),
			Description: c.PingDescription(),
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type discoverResponse struct {
	Added []controllerView `json:"added"`
	Error string           `json:"error,omitempty"`
}

// handleDiscover reports partial failures alongside what was found.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.discoveryTimeout)
	defer cancel()

	added, err := s.show.Discover(ctx)
	resp := discoverResponse{Added: []controllerView{}}
	s.show.View(func(*outputs.Manager) {
		for _, c := range added {
			resp.Added = append(resp.Added, viewOf(c))
		}
	})
	if err != nil {
		s.log.Warnf("discovery finished with errors: %v", err)
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type channelResponse struct {
	Channel    int32  `json:"channel"`
	Controller string `json:"controller"`
	Output     int    `json:"output"`
	Universe   int    `json:"universe"`
	Offset     int32  `json:"offset"`
	Mapping    string `json:"mapping"`
	Value      *int   `json:"value,omitempty"`
}

func channelParam(r *http.Request) (int32, error) {
	ch, err := strconv.ParseInt(chi.URLParam(r, "ch"), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: channel %q", outputs.ErrOutOfRange, chi.URLParam(r, "ch"))
	}
	return int32(ch), nil
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := channelParam(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var resp channelResponse
	s.show.View(func(om *outputs.Manager) {
		var (
			c      outputs.Controller
			o      *outputs.Output
			offset int32
		)
		if c, o, offset, err = om.Resolve(ch); err != nil {
			return
		}
		resp = channelResponse{
			Channel:    ch,
			Controller: c.Name(),
			Output:     o.OutputNumber(),
			Universe:   o.Universe(),
			Offset:     offset,
			Mapping:    c.ChannelMapping(ch),
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if s.channels != nil {
		if v, err := s.channels.Channel(ch); err == nil {
			value := int(v)
			resp.Value = &value
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type setChannelRequest struct {
	Value int `json:"value"`
}

func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	if s.channels == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "DMX output is not running"})
		return
	}
	ch, err := channelParam(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req setChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid body: "+err.Error())
		return
	}
	if req.Value < 0 || req.Value > 255 {
		badRequest(w, fmt.Sprintf("value %d must be between 0 and 255", req.Value))
		return
	}
	if err := s.channels.SetChannel(ch, byte(req.Value)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"channel": int(ch), "value": req.Value})
}

func (s *Server) handleBlackout(w http.ResponseWriter, r *http.Request) {
	if s.channels == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "DMX output is not running"})
		return
	}
	s.channels.Blackout()
	s.log.Info("blackout")
	writeJSON(w, http.StatusOK, map[string]bool{"blackout": true})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.show.Save(r.Context()); err != nil {
		s.log.Errorf("save failed: %v", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var csv string
	s.show.View(func(om *outputs.Manager) { csv = om.Export() })
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="controllers.csv"`)
	_, _ = w.Write([]byte(csv))
}
