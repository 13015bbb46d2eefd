package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ruteri/storage-distribution/api/clients"
	"github.com/ruteri/storage-distribution/cmd/flags"
	"github.com/ruteri/storage-distribution/interfaces"
	"github.com/ruteri/storage-distribution/registry"
	"github.com/urfave/cli/v2"
)

var flagStrategy = &cli.StringFlag{
	Name:  "strategy",
	Value: "default",
	Usage: "storage strategy to operate on",
}
var flagTenant = &cli.IntFlag{
	Name:  "tenant",
	Value: 0,
	Usage: "tenant owning the objects",
}
var flagCategory = &cli.StringFlag{
	Name:  "category",
	Value: string(interfaces.CategoryObject),
	Usage: "data category of the objects",
}
var flagRequester = &cli.StringFlag{
	Name:  "requester",
	Value: "storagectl",
	Usage: "requester recorded in the storage logbook",
}
var flagOffers = &cli.StringSliceFlag{
	Name:  "offer",
	Usage: "restrict the operation to this offer (repeatable)",
}
var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: 0,
	Usage: "request timeout, 0 for none",
}

const usage string = `Operate a storage distribution server.

Objects are addressed by strategy, tenant, category and object id. Results
are printed as JSON; "get" writes the object bytes.`

func main() {
	app := &cli.App{
		Name:  "storagectl",
		Usage: usage,
		Flags: []cli.Flag{
			flags.ServerAddrFlag,
			flagStrategy,
			flagTenant,
			flagCategory,
			flagRequester,
			flagTimeout,
		},
		Commands: []*cli.Command{
			{
				Name:      "put",
				Usage:     "store a local file",
				ArgsUsage: "<object-id> <file>",
				Flags:     []cli.Flag{flagOffers},
				Action: withClient(2, func(c *Client, args []string) error {
					res, err := c.dist.StoreInOffers(c.ctx, c.strategy, c.dataContext(args[0]), c.offers, fileProvider(args[1]))
					return printResult(res, err)
				}),
			},
			{
				Name:      "store",
				Usage:     "store a workspace object in every offer",
				ArgsUsage: "<object-id> <workspace-container> <workspace-uri>",
				Action: withClient(3, func(c *Client, args []string) error {
					res, err := c.dist.StoreInAllOffers(c.ctx, c.strategy, c.dataContext(args[0]), interfaces.ObjectDescription{
						WorkspaceContainer: args[1],
						WorkspaceObjectURI: args[2],
					})
					return printResult(res, err)
				}),
			},
			{
				Name:      "bulk",
				Usage:     "store workspace objects named like their object ids",
				ArgsUsage: "<workspace-container> <object-id>...",
				Action: withClient(2, func(c *Client, args []string) error {
					ids := args[1:]
					res, err := c.dist.BulkStoreFromSource(c.ctx, c.strategy, interfaces.BulkStoreRequest{
						Tenant:              c.tenant,
						Requester:           c.requester,
						Category:            c.category,
						WorkspaceContainer:  args[0],
						ObjectIDs:           ids,
						WorkspaceObjectURIs: ids,
					})
					return printResult(res, err)
				}),
			},
			{
				Name:      "get",
				Usage:     "read an object",
				ArgsUsage: "<object-id> [output-file]",
				Flags:     []cli.Flag{flagOffers},
				Action: withClient(1, func(c *Client, args []string) error {
					offerID := ""
					if len(c.offers) > 0 {
						offerID = c.offers[0]
					}
					res, err := c.dist.Retrieve(c.ctx, c.strategy, c.dataContext(args[0]), offerID)
					if err != nil {
						return err
					}
					defer res.Body.Close()

					out := io.Writer(os.Stdout)
					if len(args) > 1 {
						f, err := os.Create(args[1])
						if err != nil {
							return err
						}
						defer f.Close()
						out = f
					}
					if _, err := io.Copy(out, res.Body); err != nil {
						return fmt.Errorf("reading from offer %s: %w", res.OfferID, err)
					}
					return nil
				}),
			},
			{
				Name:      "delete",
				Usage:     "delete an object",
				ArgsUsage: "<object-id>",
				Flags:     []cli.Flag{flagOffers},
				Action: withClient(1, func(c *Client, args []string) error {
					res, err := c.dist.DeleteInOffers(c.ctx, c.strategy, c.dataContext(args[0]), c.offers)
					return printResult(res, err)
				}),
			},
			{
				Name:      "exists",
				Usage:     "check which offers hold an object",
				ArgsUsage: "<object-id>",
				Flags:     []cli.Flag{flagOffers},
				Action: withClient(1, func(c *Client, args []string) error {
					res, err := c.dist.CheckExisting(c.ctx, c.strategy, c.dataContext(args[0]), c.offers)
					return printResult(res, err)
				}),
			},
			{
				Name:      "info",
				Usage:     "show per-offer metadata of objects",
				ArgsUsage: "<object-id>...",
				Flags:     []cli.Flag{flagOffers},
				Action: withClient(1, func(c *Client, args []string) error {
					res, err := c.dist.GetBatchObjectInformation(c.ctx, c.strategy, c.tenant, c.category, args, c.offers)
					return printResult(res, err)
				}),
			},
			{
				Name:      "copy",
				Usage:     "replace the copy of an object on one offer with the copy of another",
				ArgsUsage: "<object-id> <source-offer> <destination-offer>",
				Action: withClient(3, func(c *Client, args []string) error {
					res, err := c.dist.CopyObjectFromOfferToOffer(c.ctx, c.strategy, c.dataContext(args[0]), args[1], args[2])
					return printResult(res, err)
				}),
			},
			{
				Name:  "list",
				Usage: "list a container of the referent offer",
				Flags: []cli.Flag{
					flagOffers,
					&cli.StringFlag{Name: "cursor", Usage: "continue after this cursor"},
					&cli.IntFlag{Name: "limit", Value: 100, Usage: "page size"},
				},
				Action: withClient(0, func(c *Client, _ []string) error {
					offerID := ""
					if len(c.offers) > 0 {
						offerID = c.offers[0]
					}
					res, err := c.dist.ListContainerObjects(c.ctx, c.strategy, offerID, c.tenant, c.category, c.cli.String("cursor"), c.cli.Int("limit"))
					return printResult(res, err)
				}),
			},
			{
				Name:  "logs",
				Usage: "read the offer journal",
				Flags: []cli.Flag{
					flagOffers,
					&cli.Int64Flag{Name: "offset", Value: -1, Usage: "first sequence to read, -1 for the start (or end)"},
					&cli.IntFlag{Name: "limit", Value: 100, Usage: "maximum entries"},
					&cli.BoolFlag{Name: "desc", Usage: "newest entries first"},
				},
				Action: withClient(0, func(c *Client, _ []string) error {
					req := interfaces.OfferLogRequest{
						Tenant:   c.tenant,
						Category: c.category,
						Limit:    c.cli.Int("limit"),
						Order:    interfaces.OrderAscending,
					}
					if offset := c.cli.Int64("offset"); offset >= 0 {
						req.Offset = &offset
					}
					if c.cli.Bool("desc") {
						req.Order = interfaces.OrderDescending
					}
					if len(c.offers) > 0 {
						res, err := c.dist.GetOfferLogsByOfferID(c.ctx, c.strategy, c.offers[0], req)
						return printResult(res, err)
					}
					res, err := c.dist.GetOfferLogs(c.ctx, c.strategy, req)
					return printResult(res, err)
				}),
			},
			{
				Name:  "capacity",
				Usage: "report per-offer capacity",
				Action: withClient(0, func(c *Client, _ []string) error {
					res, err := c.dist.GetContainerInformation(c.ctx, c.strategy, c.tenant)
					return printResult(res, err)
				}),
			},
			{
				Name:      "read-order",
				Usage:     "ask an asynchronous offer to stage objects",
				ArgsUsage: "<offer> <object-id>...",
				Action: withClient(2, func(c *Client, args []string) error {
					res, err := c.dist.CreateReadOrder(c.ctx, c.strategy, args[0], c.tenant, c.category, args[1:])
					return printResult(res, err)
				}),
			},
			{
				Name:      "read-order-status",
				Usage:     "poll a read order",
				ArgsUsage: "<offer> <order-id>",
				Action: withClient(2, func(c *Client, args []string) error {
					complete, err := c.dist.CheckReadOrder(c.ctx, c.strategy, args[0], c.tenant, args[1])
					return printResult(map[string]bool{"complete": complete}, err)
				}),
			},
			{
				Name:      "check-referential",
				Usage:     "validate a referential file without contacting the server",
				ArgsUsage: "<file>",
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return cli.ShowSubcommandHelp(cCtx)
					}
					reg, err := registry.LoadFile(cCtx.Args().First())
					if err != nil {
						return err
					}
					return printResult(map[string][]string{
						"strategies": reg.StrategyIDs(),
						"offers":     reg.OfferIDs(),
					}, nil)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// Client carries the global flags of one invocation.
type Client struct {
	ctx       context.Context
	cli       *cli.Context
	dist      interfaces.StorageDistribution
	strategy  string
	tenant    int
	category  interfaces.DataCategory
	requester string
	offers    []string
}

func withClient(minArgs int, action func(c *Client, args []string) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		if cCtx.NArg() < minArgs {
			return cli.ShowSubcommandHelp(cCtx)
		}
		category := interfaces.DataCategory(strings.ToUpper(cCtx.String(flagCategory.Name)))
		if err := category.Validate(); err != nil {
			return err
		}

		ctx := cCtx.Context
		if timeout := cCtx.Duration(flagTimeout.Name); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		return action(&Client{
			ctx:       ctx,
			cli:       cCtx,
			dist:      clients.NewDistributionClient(cCtx.String(flags.ServerAddrFlag.Name), 0),
			strategy:  cCtx.String(flagStrategy.Name),
			tenant:    cCtx.Int(flagTenant.Name),
			category:  category,
			requester: cCtx.String(flagRequester.Name),
			offers:    cCtx.StringSlice(flagOffers.Name),
		}, cCtx.Args().Slice())
	}
}

func (c *Client) dataContext(objectID string) interfaces.DataContext {
	return interfaces.DataContext{
		ObjectID:  objectID,
		Category:  c.category,
		Requester: c.requester,
		Tenant:    c.tenant,
	}
}

func fileProvider(path string) interfaces.StreamProvider {
	return func(context.Context) (*interfaces.StreamAndInfo, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		return &interfaces.StreamAndInfo{Stream: f, Size: fi.Size()}, nil
	}
}

// printResult prints res even when err reports a partial failure.
func printResult(res any, err error) error {
	if res != nil {
		encoded, _ := json.MarshalIndent(res, "", "  ")
		if string(encoded) != "null" {
			fmt.Println(string(encoded))
		}
	}
	return err
}
