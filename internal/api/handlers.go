package api

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MJE43/bart-task-go/internal/export"
	"github.com/MJE43/bart-task-go/internal/scoring"
	"github.com/MJE43/bart-task-go/internal/session"
	"github.com/MJE43/bart-task-go/internal/trials"
)

const (
	defaultRecordLimit = 100
	maxRecordLimit     = 1000
)

type activeSession struct {
	id        string
	seed      int64
	order     trials.Order
	engine    *session.Engine
	pacer     *session.Pacer
	startedAt time.Time
}

func (a *activeSession) response(paced bool) SessionResponse {
	return SessionResponse{
		SessionID:     a.id,
		Seed:          a.seed,
		Order:         a.order,
		Paced:         paced,
		StartedAt:     a.startedAt.UTC().Format(time.RFC3339),
		Snapshot:      a.engine.Snapshot(),
		EngineVersion: EngineVersion,
	}
}

type action string

const (
	actionReady   action = "ready"
	actionPump    action = "pump"
	actionCollect action = "collect"
	actionAdvance action = "advance"
)

// session returns the active session or nil
func (s *Server) session() *activeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// POST /api/v1/session
func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.errorHandler.HandleValidationError(w, r, "body", err.Error())
		return
	}

	opts := s.opts.Sequence
	if req.Seed != 0 {
		opts.Seed = req.Seed
	}
	if req.Order != "" {
		opts.Order = trials.Order(req.Order)
	}
	order, err := trials.ParseOrder(string(opts.Order))
	if err != nil {
		s.errorHandler.HandleValidationError(w, r, "order", err.Error())
		return
	}
	opts.Order = order

	id := uuid.NewString()
	emitters := []session.Option{
		session.WithClock(s.opts.Clock),
		session.WithEmitter(s.hub.EmitterFor(id)),
		session.WithEmitter(s.metrics),
	}
	if s.opts.SessionLogger != nil {
		emitters = append(emitters, session.WithEmitter(session.NewLogEmitter(s.opts.SessionLogger)))
	}
	eng, err := session.NewFromOptions(opts, emitters...)
	if err != nil {
		s.errorHandler.HandleError(w, r, err, http.StatusInternalServerError)
		return
	}

	active := &activeSession{
		id:        id,
		seed:      opts.Seed,
		order:     opts.Order,
		engine:    eng,
		startedAt: time.Now(),
	}
	if s.opts.Paced {
		active.pacer = session.NewPacer(eng, s.opts.Delays)
	}

	s.mu.Lock()
	if prev := s.current; prev != nil && prev.pacer != nil {
		prev.pacer.Stop()
	}
	s.current = active
	s.hub.Reset(id)
	s.mu.Unlock()

	eng.Start()

	s.logger.Printf("session_started session_id=%s seed=%d order=%s paced=%t request_id=%s",
		id, opts.Seed, opts.Order, s.opts.Paced, middleware.GetReqID(r.Context()))
	s.writeJSON(w, http.StatusCreated, active.response(s.opts.Paced))
}

// GET /api/v1/session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	active := s.session()
	if active == nil {
		s.errorHandler.HandleNoSession(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, active.response(s.opts.Paced))
}

// POST /api/v1/session/{ready,pump,collect,advance}
func (s *Server) handleAction(a action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := s.session()
		if active == nil {
			s.errorHandler.HandleNoSession(w, r)
			return
		}

		var applied bool
		switch a {
		case actionReady:
			applied = active.engine.Ready()
		case actionPump:
			applied = active.engine.Pump()
		case actionCollect:
			applied = active.engine.Collect()
		case actionAdvance:
			applied = active.engine.Advance()
		}

		s.writeJSON(w, http.StatusOK, ActionResponse{
			Action:   string(a),
			Applied:  applied,
			Snapshot: active.engine.Snapshot(),
		})
	}
}

// GET /api/v1/session/records?since=&limit=
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	active := s.session()
	if active == nil {
		s.errorHandler.HandleNoSession(w, r)
		return
	}

	since, ok := s.queryInt(w, r, "since", 0, 0, trials.TotalTrials)
	if !ok {
		return
	}
	limit, ok := s.queryInt(w, r, "limit", defaultRecordLimit, 1, maxRecordLimit)
	if !ok {
		return
	}

	log := active.engine.Log()
	records := log.Since(since, limit)
	s.writeJSON(w, http.StatusOK, RecordsResponse{
		Records: records,
		Next:    since + len(records),
		Total:   log.Len(),
	})
}

// GET /api/v1/session/events?since=
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.session() == nil {
		s.errorHandler.HandleNoSession(w, r)
		return
	}
	since, ok := s.queryInt(w, r, "since", 0, 0, int(^uint(0)>>1))
	if !ok {
		return
	}

	id, events := s.hub.Since(int64(since))
	last := int64(since)
	if n := len(events); n > 0 {
		last = events[n-1].Seq
	}
	s.writeJSON(w, http.StatusOK, EventsResponse{SessionID: id, Events: events, LastSeq: last})
}

// GET /api/v1/session/scores
func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	active := s.session()
	if active == nil {
		s.errorHandler.HandleNoSession(w, r)
		return
	}
	scores, final := active.engine.Scores()
	s.writeJSON(w, http.StatusOK, ScoresResponse{
		Scores:  scores,
		Final:   final,
		Summary: scores.Summary(),
	})
}

// GET /api/v1/session/export.csv
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	active := s.session()
	if active == nil {
		s.errorHandler.HandleNoSession(w, r)
		return
	}

	records := active.engine.Records()
	var scores scoring.ScoreSet
	if final, ok := active.engine.Scores(); ok {
		scores = final
	} else {
		scores = scoring.Compute(records)
	}

	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, records, scores); err != nil {
		s.errorHandler.HandleError(w, r, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(time.Now())+`"`)
	w.Header().Set("X-Engine-Version", EngineVersion)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// GET /api/v1/balloons
func (s *Server) handleListBalloons(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, BalloonsResponse{
		Balloons:      trials.Balloons(),
		EngineVersion: EngineVersion,
	})
}

// queryInt parses an optional integer query parameter within [lo, hi].
// It writes a validation error and returns false when the value is bad.
func (s *Server) queryInt(w http.ResponseWriter, r *http.Request, key string, def, lo, hi int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || v > hi {
		s.errorHandler.HandleValidationError(w, r, key,
			key+" must be an integer between "+strconv.Itoa(lo)+" and "+strconv.Itoa(hi))
		return 0, false
	}
	return v, true
}
