// Package watch implements the "ulists watch" command, a terminal view of one
// list kept live by a Reconciler against a remote server.
package watch

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/ulists/internal/client"
	"github.com/chirino/ulists/internal/model"
	"github.com/chirino/ulists/internal/reconcile"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

// Command returns the watch sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Follow a list's items as collaborators change them",
		ArgsUsage: "[list-id]",
		Description: "Without a list id, prints the caller's profile and the lists it can see.\n" +
			"With one, logs every item change until interrupted.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Sources: cli.EnvVars("ULISTS_SERVER_URL"),
				Usage:   "Base URL of the ulists server",
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:     "token",
				Sources:  cli.EnvVars("ULISTS_TOKEN"),
				Usage:    "Bearer token of the account to act as",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "add",
				Usage: "Item names to add once the list is in sync",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			c, err := client.New(cmd.String("server"), cmd.String("token"))
			if err != nil {
				return err
			}
			if cmd.Args().Len() == 0 {
				return dashboard(ctx, c)
			}
			listID, err := uuid.Parse(cmd.Args().First())
			if err != nil {
				return fmt.Errorf("invalid list id %q: %w", cmd.Args().First(), err)
			}
			return follow(ctx, c, listID, cmd.StringSlice("add"))
		},
	}
}

func dashboard(ctx context.Context, c *client.Client) error {
	profile, err := c.Profile(ctx)
	if err != nil {
		return err
	}
	if profile.Handle != nil {
		log.Info("Profile", "accountId", profile.AccountID, "handle", *profile.Handle)
	} else {
		log.Warn("Profile has no handle yet", "accountId", profile.AccountID)
	}
	lists, err := c.ListLists(ctx)
	if err != nil {
		return err
	}
	for _, l := range lists {
		log.Info("List", "id", l.ID, "title", l.Title, "owned", l.Owned)
	}
	return nil
}

func follow(ctx context.Context, c *client.Client, listID uuid.UUID, add []string) error {
	list, err := c.GetList(ctx, listID)
	if err != nil {
		return err
	}
	r := reconcile.New(listID, c)
	if err := r.Open(ctx); err != nil {
		return err
	}
	defer r.Close()

	if err := r.WaitSynced(ctx); err != nil {
		return err
	}
	log.Info("Watching list", "id", list.ID, "title", list.Title)
	prev := index(r.Items())
	for _, item := range r.Items() {
		logItem("Item", item)
	}

	for _, name := range add {
		if _, err := r.CreateItem(ctx, name); err != nil {
			log.Error("Failed to add item", "name", name, "err", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-r.Updates():
			next := index(r.Items())
			diff(prev, next)
			prev = next
		}
	}
}

func index(items []model.ListItem) map[uuid.UUID]model.ListItem {
	m := make(map[uuid.UUID]model.ListItem, len(items))
	for _, it := range items {
		m[it.ID] = it
	}
	return m
}

func diff(prev, next map[uuid.UUID]model.ListItem) {
	for id, it := range next {
		old, ok := prev[id]
		switch {
		case !ok:
			logItem("Added", it)
		case old.Name != it.Name || old.Completed != it.Completed:
			logItem("Changed", it)
		}
	}
	for id, it := range prev {
		if _, ok := next[id]; !ok {
			logItem("Removed", it)
		}
	}
}

func logItem(msg string, it model.ListItem) {
	log.Info(msg, "id", it.ID, "name", it.Name, "completed", it.Completed)
}
