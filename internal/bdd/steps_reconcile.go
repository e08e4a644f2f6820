package bdd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chirino/ulists/internal/client"
	"github.com/chirino/ulists/internal/model"
	"github.com/chirino/ulists/internal/plugin/stream/local"
	"github.com/chirino/ulists/internal/reconcile"
	"github.com/chirino/ulists/internal/testutil/cucumber"
	"github.com/cucumber/godog"
	"github.com/google/uuid"
)

// ExtraHub is the scenario Extra key holding the server's *local.Hub.
const ExtraHub = "hub"

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		r := &reconcileSteps{s: s, views: map[string]*listView{}}
		ctx.Step(`^"([^"]*)" opens a list view of \${([^}]*)}$`, r.opensAListView)
		ctx.Step(`^the next item creation by "([^"]*)" fails$`, r.theNextItemCreationFails)
		ctx.Step(`^"([^"]*)" adds "([^"]*)" in the list view$`, r.addsInTheListView)
		ctx.Step(`^"([^"]*)" toggles "([^"]*)" in the list view$`, r.togglesInTheListView)
		ctx.Step(`^"([^"]*)" renames "([^"]*)" to "([^"]*)" in the list view$`, r.renamesInTheListView)
		ctx.Step(`^"([^"]*)" deletes "([^"]*)" in the list view$`, r.deletesInTheListView)
		ctx.Step(`^the list view operation should succeed$`, r.theOperationShouldSucceed)
		ctx.Step(`^the list view operation should fail$`, r.theOperationShouldFail)
		ctx.Step(`^the list view of "([^"]*)" should show:$`, r.theListViewShouldShow)
		ctx.Step(`^within "([^"]*)" seconds the list view of "([^"]*)" should show:$`, r.withinSecondsTheListViewShouldShow)
		ctx.Step(`^the change stream drops every subscriber$`, r.theChangeStreamDropsEverySubscriber)
		ctx.After(func(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
			r.closeAll()
			return ctx, err
		})
	})
}

// faultyBackend fails the next CreateItem when armed, before it reaches the
// server.
type faultyBackend struct {
	reconcile.Backend

	mu         sync.Mutex
	failCreate bool
}

func (b *faultyBackend) CreateItem(ctx context.Context, listID uuid.UUID, id uuid.UUID, name string) (*model.ListItem, error) {
	b.mu.Lock()
	fail := b.failCreate
	b.failCreate = false
	b.mu.Unlock()
	if fail {
		return nil, &client.StoreError{Op: "create item", Kind: client.KindNetwork, Err: errors.New("connection reset")}
	}
	return b.Backend.CreateItem(ctx, listID, id, name)
}

type listView struct {
	backend *faultyBackend
	rec     *reconcile.Reconciler
}

type reconcileSteps struct {
	s       *cucumber.TestScenario
	views   map[string]*listView
	lastErr error
}

func (r *reconcileSteps) view(user string) (*listView, error) {
	v := r.views[user]
	if v == nil {
		return nil, fmt.Errorf("%q has not opened a list view", user)
	}
	return v, nil
}

func (r *reconcileSteps) opensAListView(user, listVar string) error {
	raw, err := r.s.ResolveString(listVar)
	if err != nil {
		return err
	}
	listID, err := uuid.Parse(raw)
	if err != nil {
		return err
	}
	c, err := client.New(r.s.APIURL, user)
	if err != nil {
		return err
	}
	backend := &faultyBackend{Backend: c}
	rec := reconcile.New(listID, backend, reconcile.WithBackoff(10*time.Millisecond, 100*time.Millisecond))
	if err := rec.Open(context.Background()); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rec.WaitSynced(ctx); err != nil {
		_ = rec.Close()
		return err
	}
	r.views[user] = &listView{backend: backend, rec: rec}
	return nil
}

func (r *reconcileSteps) closeAll() {
	for _, v := range r.views {
		_ = v.rec.Close()
	}
	r.views = map[string]*listView{}
}

func (r *reconcileSteps) theNextItemCreationFails(user string) error {
	v, err := r.view(user)
	if err != nil {
		return err
	}
	v.backend.mu.Lock()
	v.backend.failCreate = true
	v.backend.mu.Unlock()
	return nil
}

func (r *reconcileSteps) itemNamed(v *listView, name string) (uuid.UUID, error) {
	for _, item := range v.rec.Items() {
		if item.Name == name {
			return item.ID, nil
		}
	}
	return uuid.Nil, fmt.Errorf("no item named %q in the list view", name)
}

func (r *reconcileSteps) addsInTheListView(user, name string) error {
	v, err := r.view(user)
	if err != nil {
		return err
	}
	_, r.lastErr = v.rec.CreateItem(context.Background(), name)
	return nil
}

func (r *reconcileSteps) togglesInTheListView(user, name string) error {
	v, err := r.view(user)
	if err != nil {
		return err
	}
	id, err := r.itemNamed(v, name)
	if err != nil {
		return err
	}
	r.lastErr = v.rec.ToggleItem(context.Background(), id)
	return nil
}

func (r *reconcileSteps) renamesInTheListView(user, name, to string) error {
	v, err := r.view(user)
	if err != nil {
		return err
	}
	id, err := r.itemNamed(v, name)
	if err != nil {
		return err
	}
	r.lastErr = v.rec.RenameItem(context.Background(), id, to)
	return nil
}

func (r *reconcileSteps) deletesInTheListView(user, name string) error {
	v, err := r.view(user)
	if err != nil {
		return err
	}
	id, err := r.itemNamed(v, name)
	if err != nil {
		return err
	}
	r.lastErr = v.rec.DeleteItem(context.Background(), id)
	return nil
}

func (r *reconcileSteps) theOperationShouldSucceed() error {
	if r.lastErr != nil {
		return fmt.Errorf("expected the operation to succeed: %w", r.lastErr)
	}
	return nil
}

func (r *reconcileSteps) theOperationShouldFail() error {
	if r.lastErr == nil {
		return errors.New("expected the operation to fail")
	}
	return nil
}

// viewMatches compares the view against a table with a name column and an
// optional completed column.
func viewMatches(items []model.ListItem, table *godog.Table) error {
	if len(table.Rows) == 0 {
		return errors.New("expected table needs a header row")
	}
	header := table.Rows[0].Cells
	expected := table.Rows[1:]
	if len(items) != len(expected) {
		return fmt.Errorf("expected %d items, got %d: %s", len(expected), len(items), describe(items))
	}
	for i, row := range expected {
		for j, cell := range row.Cells {
			switch header[j].Value {
			case "name":
				if items[i].Name != cell.Value {
					return fmt.Errorf("item %d: expected name %q, got: %s", i, cell.Value, describe(items))
				}
			case "completed":
				want, err := strconv.ParseBool(cell.Value)
				if err != nil {
					return err
				}
				if items[i].Completed != want {
					return fmt.Errorf("item %d: expected completed=%t, got: %s", i, want, describe(items))
				}
			default:
				return fmt.Errorf("unknown column %q", header[j].Value)
			}
		}
	}
	return nil
}

func describe(items []model.ListItem) string {
	out := "["
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s(completed=%t)", item.Name, item.Completed)
	}
	return out + "]"
}

func (r *reconcileSteps) theListViewShouldShow(user string, table *godog.Table) error {
	v, err := r.view(user)
	if err != nil {
		return err
	}
	return viewMatches(v.rec.Items(), table)
}

func (r *reconcileSteps) withinSecondsTheListViewShouldShow(timeout float64, user string, table *godog.Table) error {
	v, err := r.view(user)
	if err != nil {
		return err
	}
	deadline := time.After(time.Duration(timeout * float64(time.Second)))
	for {
		err := viewMatches(v.rec.Items(), table)
		if err == nil {
			return nil
		}
		select {
		case <-v.rec.Updates():
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			return fmt.Errorf("list view of %q did not converge: %w", user, err)
		}
	}
}

func (r *reconcileSteps) theChangeStreamDropsEverySubscriber() error {
	hub, ok := r.s.Extra[ExtraHub].(*local.Hub)
	if !ok {
		return errors.New("scenario has no change hub")
	}
	hub.DropAll(errors.New("stream reset"))
	return nil
}
