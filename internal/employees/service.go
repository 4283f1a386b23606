// Package employees wraps the employee endpoints of the backend.
package employees

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wolfeidau/staffconsole/internal/client"
	"github.com/wolfeidau/staffconsole/internal/models"
)

const basePath = "/api/employees"

const (
	DefaultPage  = 1
	DefaultLimit = 20
)

// Doer sends requests through the client core.
type Doer interface {
	Do(ctx context.Context, req *client.Request, out any) error
}

// Meta is the paging information of a list response.
type Meta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// ListResponse is the envelope of GET /api/employees.
type ListResponse struct {
	Success bool               `json:"success"`
	Data    []*models.Employee `json:"data"`
	Meta    *Meta              `json:"meta,omitempty"`
}

// Response is the envelope of single employee endpoints.
type Response struct {
	Success bool             `json:"success"`
	Data    *models.Employee `json:"data,omitempty"`
}

// ListParams selects a page of employees, optionally filtered by a free text
// query matched by the backend.
type ListParams struct {
	Page  int
	Limit int
	Query string
}

func (p ListParams) values() url.Values {
	page, limit := p.Page, p.Limit
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}

	v := url.Values{}
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(limit))
	v.Set("q", strings.TrimSpace(p.Query))
	return v
}

// Service maps employee operations onto the backend, one request each.
type Service struct {
	doer Doer
}

func NewService(doer Doer) *Service {
	return &Service{doer: doer}
}

// List fetches one page. Cancelling ctx aborts the request and the error
// satisfies apierror.IsCanceled.
func (s *Service) List(ctx context.Context, params ListParams) (*ListResponse, error) {
	var res ListResponse
	err := s.doer.Do(ctx, &client.Request{
		Method: http.MethodGet,
		Path:   basePath,
		Query:  params.values(),
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Response, error) {
	var res Response
	if err := s.doer.Do(ctx, &client.Request{Method: http.MethodGet, Path: itemPath(id)}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Create sends payload as the new employee. Build it with Form.Payload so
// sensitive fields are only sent by roles allowed to set them.
func (s *Service) Create(ctx context.Context, payload Payload) (*Response, error) {
	var res Response
	if err := s.doer.Do(ctx, &client.Request{Method: http.MethodPost, Path: basePath, Body: payload}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Update sends a partial employee.
func (s *Service) Update(ctx context.Context, id string, payload Payload) (*Response, error) {
	var res Response
	if err := s.doer.Do(ctx, &client.Request{Method: http.MethodPut, Path: itemPath(id), Body: payload}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Service) Delete(ctx context.Context, id string) (*Response, error) {
	var res Response
	if err := s.doer.Do(ctx, &client.Request{Method: http.MethodDelete, Path: itemPath(id)}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func itemPath(id string) string {
	return basePath + "/" + url.PathEscape(id)
}
