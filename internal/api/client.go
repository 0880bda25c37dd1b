// Package api is the typed client for the pipeline service REST surface.
package api

import (
	"context"
	"net/http"
	"net/url"

	"pipewatch/internal/gateway"
	"pipewatch/pkg/models"
)

// Client exposes one method per service endpoint. All protected calls go
// through the gateway, which owns credential attachment and 401 handling.
type Client struct {
	gw *gateway.Gateway
}

// NewClient creates a Client over the given gateway.
func NewClient(gw *gateway.Gateway) *Client {
	return &Client{gw: gw}
}

// Login exchanges credentials for a signed session token.
func (c *Client) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	err := c.gw.DoPublic(ctx, http.MethodPost, "/login", models.LoginRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, email, password string) (*models.RegisterResponse, error) {
	var resp models.RegisterResponse
	err := c.gw.DoPublic(ctx, http.MethodPost, "/register", models.RegisterRequest{Email: email, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetUser fetches a user profile.
func (c *Client) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := c.gw.Do(ctx, http.MethodGet, "/user/"+url.PathEscape(userID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser writes back the client-editable profile fields. The returned
// user is the server's authoritative view.
func (c *Client) UpdateUser(ctx context.Context, userID, name, role string) (*models.User, error) {
	var user models.User
	req := models.UpdateUserRequest{Name: name, Role: role}
	if err := c.gw.Do(ctx, http.MethodPut, "/user/"+url.PathEscape(userID), req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListPipelines fetches the pipelines owned by a user.
func (c *Client) ListPipelines(ctx context.Context, userID string) ([]models.Pipeline, error) {
	var pipelines []models.Pipeline
	path := "/pipelines?user_id=" + url.QueryEscape(userID)
	if err := c.gw.Do(ctx, http.MethodGet, path, nil, &pipelines); err != nil {
		return nil, err
	}
	return pipelines, nil
}

// CreatePipeline creates a new pipeline with the given number of stages.
// The new pipeline appears in the list on the next pull refresh; there is
// no optimistic insert.
func (c *Client) CreatePipeline(ctx context.Context, userID string, stages int, parallel bool) (*models.CreatePipelineResponse, error) {
	var resp models.CreatePipelineResponse
	req := models.CreatePipelineRequest{Stages: stages, IsParallel: parallel, UserID: userID}
	if err := c.gw.Do(ctx, http.MethodPost, "/createpipelines", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartPipeline starts execution of a pipeline.
func (c *Client) StartPipeline(ctx context.Context, userID, pipelineID string, input any, parallel bool) error {
	req := models.StartPipelineRequest{UserID: userID, Input: input, IsParallel: parallel}
	return c.gw.Do(ctx, http.MethodPost, "/pipelines/"+url.PathEscape(pipelineID)+"/start", req, nil)
}

// CancelPipeline cancels a running pipeline.
func (c *Client) CancelPipeline(ctx context.Context, userID, pipelineID string, parallel bool) error {
	req := models.CancelPipelineRequest{UserID: userID, IsParallel: parallel}
	return c.gw.Do(ctx, http.MethodPost, "/pipelines/"+url.PathEscape(pipelineID)+"/cancel", req, nil)
}

// GetStages fetches the stages of one pipeline.
func (c *Client) GetStages(ctx context.Context, pipelineID string) ([]models.Stage, error) {
	var stages []models.Stage
	if err := c.gw.Do(ctx, http.MethodGet, "/pipelines/"+url.PathEscape(pipelineID)+"/stages", nil, &stages); err != nil {
		return nil, err
	}
	return stages, nil
}
