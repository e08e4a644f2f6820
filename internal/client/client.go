// Package client talks to a ulists server over HTTP. A Client acts as the
// account its bearer token resolves to and satisfies reconcile.Backend, so a
// Reconciler can run against a remote server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chirino/ulists/internal/model"
	registrystore "github.com/chirino/ulists/internal/registry/store"
	"github.com/google/uuid"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL      *url.URL
	token        string
	http         *http.Client
	streamBuffer int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the http.Client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithStreamBuffer sets how many change events a subscription buffers.
func WithStreamBuffer(n int) Option {
	return func(c *Client) { c.streamBuffer = n }
}

// New returns a Client for the server at baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		baseURL:      u,
		token:        token,
		http:         &http.Client{Timeout: 30 * time.Second},
		streamBuffer: 256,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Profile is the caller's account as reported by the server. Handle is nil
// when the server could not assign one.
type Profile struct {
	AccountID string        `json:"accountId"`
	Handle    *model.Handle `json:"handle"`
}

type dataEnvelope[T any] struct {
	Data []T `json:"data"`
}

// request addresses one API call. resource and id name the target for
// NotFoundError.
type request struct {
	op       string
	method   string
	path     []string
	body     any
	listID   uuid.UUID
	resource string
	id       string
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return &StoreError{Op: r.op, Kind: KindValidation, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL.JoinPath(r.path...).String(), body)
	if err != nil {
		return networkError(r.op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return networkError(r.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(r.op, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(r.op, resp.StatusCode, data, r.listID, r.resource, r.id)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &StoreError{Op: r.op, Kind: KindServer, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// Profile ensures the caller has a handle and returns it.
func (c *Client) Profile(ctx context.Context) (*Profile, error) {
	var p Profile
	err := c.do(ctx, request{op: "profile", method: http.MethodGet, path: []string{"v1", "profile"}, resource: "profile"}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// --- Lists ---

func (c *Client) ListLists(ctx context.Context) ([]registrystore.ListSummary, error) {
	var env dataEnvelope[registrystore.ListSummary]
	if err := c.do(ctx, request{op: "list lists", method: http.MethodGet, path: []string{"v1", "lists"}}, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

func (c *Client) CreateList(ctx context.Context, title string) (*model.ShoppingList, error) {
	var list model.ShoppingList
	err := c.do(ctx, request{
		op: "create list", method: http.MethodPost, path: []string{"v1", "lists"},
		body: map[string]string{"title": title},
	}, &list)
	if err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) GetList(ctx context.Context, listID uuid.UUID) (*model.ShoppingList, error) {
	var list model.ShoppingList
	err := c.do(ctx, request{
		op: "get list", method: http.MethodGet, path: listPath(listID),
		listID: listID, resource: "list", id: listID.String(),
	}, &list)
	if err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) RenameList(ctx context.Context, listID uuid.UUID, title string) (*model.ShoppingList, error) {
	var list model.ShoppingList
	err := c.do(ctx, request{
		op: "rename list", method: http.MethodPatch, path: listPath(listID),
		body:   map[string]string{"title": title},
		listID: listID, resource: "list", id: listID.String(),
	}, &list)
	if err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *Client) DeleteList(ctx context.Context, listID uuid.UUID) error {
	return c.do(ctx, request{
		op: "delete list", method: http.MethodDelete, path: listPath(listID),
		listID: listID, resource: "list", id: listID.String(),
	}, nil)
}

// --- Items ---

func (c *Client) ListItems(ctx context.Context, listID uuid.UUID) ([]model.ListItem, error) {
	var env dataEnvelope[model.ListItem]
	err := c.do(ctx, request{
		op: "list items", method: http.MethodGet, path: append(listPath(listID), "items"),
		listID: listID, resource: "list", id: listID.String(),
	}, &env)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// CreateItem adds an item. A zero id lets the server pick one.
func (c *Client) CreateItem(ctx context.Context, listID uuid.UUID, id uuid.UUID, name string) (*model.ListItem, error) {
	body := struct {
		ID   *uuid.UUID `json:"id,omitempty"`
		Name string     `json:"name"`
	}{Name: name}
	if id != uuid.Nil {
		body.ID = &id
	}
	var item model.ListItem
	err := c.do(ctx, request{
		op: "create item", method: http.MethodPost, path: append(listPath(listID), "items"),
		body:   body,
		listID: listID, resource: "list", id: listID.String(),
	}, &item)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) UpdateItem(ctx context.Context, listID uuid.UUID, itemID uuid.UUID, update model.ItemUpdate) (*model.ListItem, error) {
	var item model.ListItem
	err := c.do(ctx, request{
		op: "update item", method: http.MethodPatch, path: append(listPath(listID), "items", itemID.String()),
		body:   update,
		listID: listID, resource: "item", id: itemID.String(),
	}, &item)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) DeleteItem(ctx context.Context, listID uuid.UUID, itemID uuid.UUID) error {
	return c.do(ctx, request{
		op: "delete item", method: http.MethodDelete, path: append(listPath(listID), "items", itemID.String()),
		listID: listID, resource: "item", id: itemID.String(),
	}, nil)
}

// --- Collaborators ---

func (c *Client) ListCollaborators(ctx context.Context, listID uuid.UUID) ([]model.ListCollaborator, error) {
	var env dataEnvelope[model.ListCollaborator]
	err := c.do(ctx, request{
		op: "list collaborators", method: http.MethodGet, path: append(listPath(listID), "collaborators"),
		listID: listID, resource: "list", id: listID.String(),
	}, &env)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// AddCollaborator grants the account holding handle access to the list. The
// handle is sent as typed; the server validates it.
func (c *Client) AddCollaborator(ctx context.Context, listID uuid.UUID, handle string) (*model.ListCollaborator, error) {
	var grant model.ListCollaborator
	err := c.do(ctx, request{
		op: "add collaborator", method: http.MethodPost, path: append(listPath(listID), "collaborators"),
		body:   map[string]string{"handle": handle},
		listID: listID, resource: "handle", id: handle,
	}, &grant)
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

func (c *Client) RemoveCollaborator(ctx context.Context, listID uuid.UUID, accountID string) error {
	return c.do(ctx, request{
		op: "remove collaborator", method: http.MethodDelete, path: append(listPath(listID), "collaborators", accountID),
		listID: listID, resource: "collaborator", id: accountID,
	}, nil)
}

func listPath(listID uuid.UUID) []string {
	return []string{"v1", "lists", listID.String()}
}
