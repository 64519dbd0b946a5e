package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/kailas-cloud/docsearch/internal/version"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "docsearchctl",
		Usage:   "Upload, list and search documents through the docsearch API",
		Version: version.String(),
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Base URL of the docsearch API",
				Value:   "http://localhost:8080",
				EnvVars: []string{"DOCSEARCH_ADDR"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Bearer token",
				EnvVars: []string{"DOCSEARCH_API_KEY"},
			},
			&cli.StringFlag{
				Name:    "department",
				Aliases: []string{"d"},
				Usage:   "Department claim sent with every request",
				EnvVars: []string{"DOCSEARCH_DEPARTMENT"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 30 * time.Second,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "Upload a file to the raw bucket",
				ArgsUsage: "<file>",
				Action:    uploadCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "key",
						Aliases: []string{"k"},
						Usage:   "Object key (defaults to <department>/<file name>)",
					},
					&cli.StringFlag{
						Name:  "content-type",
						Usage: "Content type (detected from the extension when empty)",
					},
				},
			},
			{
				Name:   "list",
				Usage:  "List raw objects",
				Action: listCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "prefix",
						Aliases: []string{"p"},
						Usage:   "Key prefix",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Semantic search over indexed documents",
				ArgsUsage: "<query>",
				Action:    searchCommand,
			},
		},
	}
}

func clientFrom(c *cli.Context) *apiClient {
	return newAPIClient(c.String("addr"), c.String("api-key"), c.String("department"), c.Duration("timeout"))
}

func uploadCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("file argument is required")
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := c.String("key")
	if key == "" {
		key = filepath.Base(path)
		if dept := c.String("department"); dept != "" {
			key = dept + "/" + key
		}
	}
	contentType := c.String("content-type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(path))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := clientFrom(c).Upload(context.Background(), key, contentType, f)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	_, _ = fmt.Fprintf(c.App.Writer, "uploaded %s/%s (%d bytes)\n", info.Bucket, info.Key, info.Size)
	return nil
}

func listCommand(c *cli.Context) error {
	items, err := clientFrom(c).List(context.Background(), c.String("prefix"))
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tSIZE\tDEPARTMENT\tCREATED")
	for _, it := range items {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			it.Key, it.Size, it.Tags["department"], it.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func searchCommand(c *cli.Context) error {
	query := c.Args().First()
	if query == "" {
		return fmt.Errorf("query argument is required")
	}

	res, err := clientFrom(c).Search(context.Background(), query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	_, _ = fmt.Fprintf(c.App.Writer, "%d documents indexed\n", res.IndexSize)
	for i, h := range res.Hits {
		_, _ = fmt.Fprintf(c.App.Writer, "%d. [%.3f] %s (%s)\n   %s\n",
			i+1, h.Score, h.DocumentID, h.DepartmentTag, h.Text)
	}
	return nil
}
