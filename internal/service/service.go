// Package service ties request decoding, allocation, planning, reporting and
// the run archive together behind the operations every front end exposes:
// the CLI, the HTTP server and the Lambda handler.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"armory-planner/internal/allocator"
	"armory-planner/internal/archive"
	"armory-planner/internal/cost"
	"armory-planner/internal/history"
	"armory-planner/internal/levels"
	"armory-planner/internal/plan"
	"armory-planner/internal/report"
)

// ErrHistoryDisabled is returned by run lookups when no archive is configured.
var ErrHistoryDisabled = errors.New("run history is disabled")

// AllocateResponse is the outcome of one allocation request.
type AllocateResponse struct {
	RunID  int64            `json:"runId,omitempty"`
	Layout archive.Layout   `json:"layout"`
	Result allocator.Result `json:"result"`
	Report string           `json:"report"`
	Cached bool             `json:"cached,omitempty"`
}

// PlanResponse is the outcome of one plan request.
type PlanResponse struct {
	RunID  int64      `json:"runId,omitempty"`
	Plan   *plan.Plan `json:"plan"`
	Report string     `json:"report"`
}

// Service is safe for concurrent use.
type Service struct {
	dec   *archive.Decoder
	store *history.Store
	log   *zap.Logger
}

// New builds a service. store may be nil to disable run recording.
func New(dec *archive.Decoder, store *history.Store, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{dec: dec, store: store, log: log}
}

// Catalog returns the cost catalog requests are priced against.
func (s *Service) Catalog() *cost.Catalog { return s.dec.Catalog() }

// Decode parses a raw request without running it.
func (s *Service) Decode(raw []byte) (*archive.Request, error) {
	return s.dec.Decode(raw)
}

// Allocate decodes raw, runs the allocator and records the run. A failure to
// record is logged, not returned.
func (s *Service) Allocate(ctx context.Context, raw []byte, opts ...allocator.Option) (*AllocateResponse, error) {
	req, err := s.dec.Decode(raw)
	if err != nil {
		return nil, err
	}
	opts = append([]allocator.Option{allocator.WithLogger(s.log)}, opts...)
	res, err := allocator.Allocate(req.Input, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", archive.ErrInvalidRequest, err)
	}

	resp := &AllocateResponse{
		Layout: req.Layout,
		Result: res,
		Report: report.FormatResult(res, s.Catalog()),
	}
	if s.store != nil {
		run, err := history.AllocationRun(raw, res)
		if err == nil {
			resp.RunID, err = s.store.Record(ctx, run)
		}
		if err != nil {
			s.log.Warn("record allocation", zap.Error(err))
		}
	}
	return resp, nil
}

// Plan decodes raw and prices its targets.
func (s *Service) Plan(ctx context.Context, raw []byte) (*PlanResponse, error) {
	req, err := s.dec.Decode(raw)
	if err != nil {
		return nil, err
	}
	if len(req.Targets) == 0 {
		return nil, fmt.Errorf("%w: no targets", archive.ErrInvalidRequest)
	}
	p, err := plan.Build(s.Catalog(), req.Targets, req.Input.Inventory, req.Input.Budget, req.Input.Rates)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", archive.ErrInvalidRequest, err)
	}

	resp := &PlanResponse{Plan: p, Report: report.FormatPlan(p, s.Catalog())}
	if s.store != nil {
		run, err := history.PlanRun(raw, p)
		if err == nil {
			resp.RunID, err = s.store.Record(ctx, run)
		}
		if err != nil {
			s.log.Warn("record plan", zap.Error(err))
		}
	}
	return resp, nil
}

// Levels lists every rung of a track's ladder.
func (s *Service) Levels(track string) ([]levels.Rung, error) {
	t, err := s.Catalog().Track(track)
	if err != nil {
		return nil, err
	}
	return t.Ladder().Rungs(), nil
}

// Runs lists recent archived runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]history.Run, error) {
	if s.store == nil {
		return nil, ErrHistoryDisabled
	}
	return s.store.List(ctx, limit)
}

// Run fetches one archived run.
func (s *Service) Run(ctx context.Context, id int64) (history.Run, error) {
	if s.store == nil {
		return history.Run{}, ErrHistoryDisabled
	}
	return s.store.Get(ctx, id)
}

// StatusCode maps an error from this package to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, archive.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, history.ErrNotFound), errors.Is(err, cost.ErrUnknownTrack):
		return http.StatusNotFound
	case errors.Is(err, ErrHistoryDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
