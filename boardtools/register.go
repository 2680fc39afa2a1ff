// Package boardtools wires the representative board, list, and card
// tools and resources onto a dispatcher. The per-entity CRUD surface is
// thin pass-through plumbing over the board API client; the interesting
// machinery lives in dispatch, sched, session, and ingress.
package boardtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/brightport/boardbridge/boardapi"
	"github.com/brightport/boardbridge/dispatch"
	"github.com/brightport/boardbridge/schema"
)

// Register adds every tool and resource to d.
func Register(d *dispatch.Dispatcher, client *boardapi.Client) error {
	registerTools(d, client)
	return registerResources(d, client)
}

func registerTools(d *dispatch.Dispatcher, client *boardapi.Client) {
	d.RegisterTool("ping", "Check that the server is responsive.",
		schema.Contract{},
		func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"pong": true}, nil
		})

	d.RegisterTool("list_boards", "List every board visible to the configured credential.",
		schema.Contract{},
		func(ctx context.Context, args map[string]any) (any, error) {
			return client.ListBoards(ctx)
		})

	d.RegisterTool("get_board", "Fetch one board by id.",
		schema.NewContract(map[string]schema.Property{
			"boardId": {Kind: schema.String, Description: "Board id", Required: true},
		}),
		func(ctx context.Context, args map[string]any) (any, error) {
			return client.GetBoard(ctx, args["boardId"].(string))
		})

	d.RegisterTool("get_lists", "Fetch the lists of a board.",
		schema.NewContract(map[string]schema.Property{
			"boardId": {Kind: schema.String, Description: "Board id", Required: true},
		}),
		func(ctx context.Context, args map[string]any) (any, error) {
			return client.GetBoardLists(ctx, args["boardId"].(string))
		})

	d.RegisterTool("get_cards", "Fetch the cards of a list.",
		schema.NewContract(map[string]schema.Property{
			"listId": {Kind: schema.String, Description: "List id", Required: true},
		}),
		func(ctx context.Context, args map[string]any) (any, error) {
			return client.GetListCards(ctx, args["listId"].(string))
		})

	d.RegisterTool("get_card", "Fetch one card by id.",
		schema.NewContract(map[string]schema.Property{
			"cardId": {Kind: schema.String, Description: "Card id", Required: true},
		}),
		func(ctx context.Context, args map[string]any) (any, error) {
			return client.GetCard(ctx, args["cardId"].(string))
		})

	d.RegisterTool("create_card", "Create a card in a list.",
		schema.NewContract(map[string]schema.Property{
			"listId": {Kind: schema.String, Description: "Target list id", Required: true},
			"name":   {Kind: schema.String, Description: "Card title", Required: true},
			"desc":   {Kind: schema.String, Description: "Card description"},
		}),
		func(ctx context.Context, args map[string]any) (any, error) {
			desc, _ := args["desc"].(string)
			return client.CreateCard(ctx, args["listId"].(string), args["name"].(string), desc)
		})

	d.RegisterTool("move_card", "Move a card to another list.",
		schema.NewContract(map[string]schema.Property{
			"cardId": {Kind: schema.String, Description: "Card id", Required: true},
			"listId": {Kind: schema.String, Description: "Destination list id", Required: true},
		}),
		func(ctx context.Context, args map[string]any) (any, error) {
			return client.MoveCard(ctx, args["cardId"].(string), args["listId"].(string))
		})
}

func registerResources(d *dispatch.Dispatcher, client *boardapi.Client) error {
	if err := d.RegisterResource("board://{boardId}", "Board summary",
		"Markdown summary of a board and its lists", "text/markdown",
		func(ctx context.Context, uri string, params map[string]string) (any, error) {
			return renderBoardSummary(ctx, client, params["boardId"])
		}); err != nil {
		return err
	}

	if err := d.RegisterResource("board://{boardId}/lists", "Board lists",
		"The lists of a board", "application/json",
		func(ctx context.Context, uri string, params map[string]string) (any, error) {
			return client.GetBoardLists(ctx, params["boardId"])
		}); err != nil {
		return err
	}

	return d.RegisterResource("card://{cardId}", "Card",
		"One card", "application/json",
		func(ctx context.Context, uri string, params map[string]string) (any, error) {
			return client.GetCard(ctx, params["cardId"])
		})
}

func renderBoardSummary(ctx context.Context, client *boardapi.Client, boardID string) (string, error) {
	board, err := client.GetBoard(ctx, boardID)
	if err != nil {
		return "", err
	}
	lists, err := client.GetBoardLists(ctx, boardID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", board.Name)
	if board.Desc != "" {
		fmt.Fprintf(&b, "%s\n\n", board.Desc)
	}
	fmt.Fprintf(&b, "%d lists:\n\n", len(lists))
	for _, list := range lists {
		fmt.Fprintf(&b, "- %s (`%s`)\n", list.Name, list.ID)
	}
	return b.String(), nil
}
